package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/shuttle?sslmode=disable")
	t.Setenv("APP_JWT_SECRET", "test-secret")
}

func TestFromEnvDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Reminder.Cadence)
	assert.Equal(t, 30*time.Minute, cfg.Reminder.WindowStart)
	assert.Equal(t, 40*time.Minute, cfg.Reminder.WindowEnd)
	assert.Equal(t, 2, cfg.Reminder.MaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.ETA.FreshnessThreshold)
	assert.Equal(t, 20, cfg.ETA.ConfidenceFloor)
}

func TestFromEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("REMINDER_CADENCE", "2m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("ETA_DEFAULT_SPEED_MPS", "11.5")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Reminder.Cadence)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.KafkaBrokers)
	assert.Equal(t, 11.5, cfg.ETA.DefaultSpeedMps)
}

func TestFromEnvCollectsErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("APP_JWT_SECRET", "")
	t.Setenv("REMINDER_CADENCE", "soon")
	t.Setenv("ETA_SPEED_WINDOW", "many")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMINDER_CADENCE")
	assert.Contains(t, err.Error(), "ETA_SPEED_WINDOW")
	assert.Contains(t, err.Error(), "Database.URL")
	assert.Contains(t, err.Error(), "Auth.JWTSecret")
}

func TestValidateRejectsWindowNarrowerThanCadence(t *testing.T) {
	setRequired(t)
	t.Setenv("REMINDER_WINDOW_START", "30m")
	t.Setenv("REMINDER_WINDOW_END", "32m")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrower than cadence")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "mysql")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Database.Driver")
}
