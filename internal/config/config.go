package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the server process. Values come from the
// environment (optionally a .env file) with defaults that run locally.
type Config struct {
	Port            string        `validate:"required,numeric"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	Timezone        string
	SeedDemoData    bool

	Database DatabaseConfig
	Auth     AuthConfig
	Reminder ReminderConfig
	Gateway  GatewayConfig
	ETA      ETAConfig
	Redis    RedisConfig
	Events   EventsConfig
	Firebase FirebaseConfig
}

type DatabaseConfig struct {
	URL            string        `validate:"required"`
	Driver         string        `validate:"oneof=postgres pgx"`
	StorageTimeout time.Duration `validate:"gt=0"`
	MaxOpenConns   int           `validate:"gte=1"`
}

type AuthConfig struct {
	JWTSecret string `validate:"required"`
	TokenTTL  time.Duration
}

type ReminderConfig struct {
	Enabled       bool
	Cadence       time.Duration `validate:"gt=0"`
	WindowStart   time.Duration `validate:"gte=0"`
	WindowEnd     time.Duration `validate:"gtfield=WindowStart"`
	MaxRetries    int           `validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `validate:"gte=0"`
	Concurrency   int           `validate:"gte=1"`
	TemplatesFile string
}

type GatewayConfig struct {
	URL      string `validate:"omitempty,url"`
	Token    string
	SenderID string
	Timeout  time.Duration `validate:"gt=0"`
}

type ETAConfig struct {
	FreshnessThreshold time.Duration `validate:"gt=0"`
	ConfidenceCeiling  int           `validate:"gte=0,lte=100"`
	ConfidenceFloor    int           `validate:"gte=0,ltefield=ConfidenceCeiling"`
	DecayPerMinute     float64       `validate:"gte=0"`
	MinGPSWeight       float64       `validate:"gte=0,lte=1"`
	MaxGPSWeight       float64       `validate:"gtefield=MinGPSWeight,lte=1"`
	SpeedWindow        int           `validate:"gte=1"`
	DefaultSpeedMps    float64       `validate:"gt=0"`
	ProgressTolerance  float64       `validate:"gte=0"`
	CacheTTL           time.Duration `validate:"gte=0"`
}

type RedisConfig struct {
	Addr     string
	Password string
}

type EventsConfig struct {
	NATSURL      string
	KafkaBrokers []string
	KafkaTopic   string
}

type FirebaseConfig struct {
	CredentialsBase64 string
	CredentialsFile   string
}

func defaultConfig() Config {
	return Config{
		Port:            "8080",
		ShutdownTimeout: 15 * time.Second,
		Database: DatabaseConfig{
			Driver:         "postgres",
			StorageTimeout: 5 * time.Second,
			MaxOpenConns:   10,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Reminder: ReminderConfig{
			Enabled:      true,
			Cadence:      5 * time.Minute,
			WindowStart:  30 * time.Minute,
			WindowEnd:    40 * time.Minute,
			MaxRetries:   2,
			RetryBackoff: 500 * time.Millisecond,
			Concurrency:  8,
		},
		Gateway: GatewayConfig{
			SenderID: "SHUTTLE",
			Timeout:  10 * time.Second,
		},
		ETA: ETAConfig{
			FreshnessThreshold: 10 * time.Minute,
			ConfidenceCeiling:  95,
			ConfidenceFloor:    20,
			DecayPerMinute:     3,
			MinGPSWeight:       0.5,
			MaxGPSWeight:       0.9,
			SpeedWindow:        5,
			DefaultSpeedMps:    13.4,
			ProgressTolerance:  15,
			CacheTTL:           60 * time.Second,
		},
		Events: EventsConfig{
			KafkaTopic: "trip-events",
		},
		Firebase: FirebaseConfig{
			CredentialsFile: "./firebase-service-account.json",
		},
	}
}

// Load reads .env (if present) and the process environment. All invalid
// values are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only
func FromEnv() (*Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.Port, "PORT")
	setDurationFromEnv(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT", &errs)
	setStringFromEnv(&cfg.Timezone, "TZ")
	setBoolFromEnv(&cfg.SeedDemoData, "SEED_DEMO_DATA", &errs)

	cfg.Database.URL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	setStringFromEnv(&cfg.Database.Driver, "DB_DRIVER")
	setDurationFromEnv(&cfg.Database.StorageTimeout, "STORAGE_TIMEOUT", &errs)
	setIntFromEnv(&cfg.Database.MaxOpenConns, "DB_MAX_OPEN_CONNS", &errs)

	cfg.Auth.JWTSecret = os.Getenv("APP_JWT_SECRET")
	setDurationFromEnv(&cfg.Auth.TokenTTL, "JWT_TTL", &errs)

	setBoolFromEnv(&cfg.Reminder.Enabled, "REMINDER_ENABLED", &errs)
	setDurationFromEnv(&cfg.Reminder.Cadence, "REMINDER_CADENCE", &errs)
	setDurationFromEnv(&cfg.Reminder.WindowStart, "REMINDER_WINDOW_START", &errs)
	setDurationFromEnv(&cfg.Reminder.WindowEnd, "REMINDER_WINDOW_END", &errs)
	setIntFromEnv(&cfg.Reminder.MaxRetries, "REMINDER_MAX_RETRIES", &errs)
	setDurationFromEnv(&cfg.Reminder.RetryBackoff, "REMINDER_RETRY_BACKOFF", &errs)
	setIntFromEnv(&cfg.Reminder.Concurrency, "REMINDER_CONCURRENCY", &errs)
	setStringFromEnv(&cfg.Reminder.TemplatesFile, "REMINDER_TEMPLATES_FILE")

	setStringFromEnv(&cfg.Gateway.URL, "SMS_GATEWAY_URL")
	cfg.Gateway.Token = os.Getenv("SMS_GATEWAY_TOKEN")
	setStringFromEnv(&cfg.Gateway.SenderID, "SMS_SENDER_ID")
	setDurationFromEnv(&cfg.Gateway.Timeout, "GATEWAY_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.ETA.FreshnessThreshold, "ETA_FRESHNESS_THRESHOLD", &errs)
	setIntFromEnv(&cfg.ETA.ConfidenceCeiling, "ETA_CONFIDENCE_CEILING", &errs)
	setIntFromEnv(&cfg.ETA.ConfidenceFloor, "ETA_CONFIDENCE_FLOOR", &errs)
	setFloatFromEnv(&cfg.ETA.DecayPerMinute, "ETA_DECAY_PER_MINUTE", &errs)
	setFloatFromEnv(&cfg.ETA.MinGPSWeight, "ETA_MIN_GPS_WEIGHT", &errs)
	setFloatFromEnv(&cfg.ETA.MaxGPSWeight, "ETA_MAX_GPS_WEIGHT", &errs)
	setIntFromEnv(&cfg.ETA.SpeedWindow, "ETA_SPEED_WINDOW", &errs)
	setFloatFromEnv(&cfg.ETA.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	setFloatFromEnv(&cfg.ETA.ProgressTolerance, "ETA_PROGRESS_TOLERANCE", &errs)
	setDurationFromEnv(&cfg.ETA.CacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")

	cfg.Events.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.Events.KafkaTopic, "KAFKA_TOPIC")

	cfg.Firebase.CredentialsBase64 = os.Getenv("FIREBASE_CREDENTIALS_BASE64")
	setStringFromEnv(&cfg.Firebase.CredentialsFile, "FIREBASE_CREDENTIALS_FILE")

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}

	return &cfg, errors.Join(errs...)
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	var errs []error
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("invalid %s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	// every departure must be seen by at least one run while inside the window
	if c.Reminder.WindowEnd-c.Reminder.WindowStart < c.Reminder.Cadence {
		errs = append(errs, fmt.Errorf("reminder window (%s-%s) is narrower than cadence %s",
			c.Reminder.WindowStart, c.Reminder.WindowEnd, c.Reminder.Cadence))
	}
	return errors.Join(errs...)
}

// Location resolves the configured timezone, falling back to local time
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("⚠️  Unknown timezone %q, using local time", c.Timezone)
		return time.Local
	}
	return loc
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
