package database

import (
	"context"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the pool with lib/pq ("postgres") or pgx ("pgx")
func Connect(driver, dbURL string, maxOpenConns int) (*sqlx.DB, error) {
	if driver == "" {
		driver = "postgres"
	}
	log.Printf("🔌 Connecting to database (driver: %s, url prefix: %s...)", driver, dbURL[:min(30, len(dbURL))])

	db, err := sqlx.Connect(driver, dbURL)
	if err != nil {
		log.Printf("❌ Database connection failed: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ Database connection successful")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT,
			role TEXT NOT NULL CHECK(role IN ('driver', 'admin')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`ALTER TABLE users ADD COLUMN IF NOT EXISTS phone TEXT`,

		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL UNIQUE,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fcm_tokens_user_id ON fcm_tokens(user_id)`,

		// Booking subsystem tables, read-only for this service outside of seeding
		`CREATE TABLE IF NOT EXISTS routes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			origin_name TEXT NOT NULL,
			origin_latitude DOUBLE PRECISION NOT NULL,
			origin_longitude DOUBLE PRECISION NOT NULL,
			destination_name TEXT NOT NULL,
			destination_latitude DOUBLE PRECISION NOT NULL,
			destination_longitude DOUBLE PRECISION NOT NULL,
			waypoint_name TEXT,
			waypoint_latitude DOUBLE PRECISION,
			waypoint_longitude DOUBLE PRECISION,
			scheduled_duration_minutes INT NOT NULL CHECK (scheduled_duration_minutes > 0)
		)`,
		`CREATE TABLE IF NOT EXISTS departures (
			id TEXT PRIMARY KEY,
			route_id TEXT NOT NULL REFERENCES routes(id),
			scheduled_at BIGINT NOT NULL,
			capacity INT NOT NULL DEFAULT 0,
			driver_id TEXT REFERENCES users(id) ON DELETE SET NULL,
			vehicle_code TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_departures_scheduled_at ON departures(scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_departures_driver ON departures(driver_id, scheduled_at)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			departure_id TEXT NOT NULL REFERENCES departures(id) ON DELETE CASCADE,
			passenger_name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			seats INT NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'confirmed'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_departure ON bookings(departure_id)`,

		`CREATE TABLE IF NOT EXISTS tracking_sessions (
			id TEXT PRIMARY KEY,
			departure_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL CHECK(status IN ('SCHEDULED', 'BOARDING', 'EN_ROUTE', 'DELAYED', 'ARRIVED', 'COMPLETED')),
			passenger_count INT NOT NULL DEFAULT 0 CHECK (passenger_count >= 0),
			started_at BIGINT,
			delay_minutes INT NOT NULL DEFAULT 0 CHECK (delay_minutes >= 0),
			delay_active BOOLEAN NOT NULL DEFAULT FALSE,
			arrived_at BIGINT,
			completed_at BIGINT,
			last_changed_at BIGINT NOT NULL,
			last_changed_by TEXT NOT NULL,
			version INT NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,
		`CREATE TABLE IF NOT EXISTS trip_transitions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			actor TEXT NOT NULL,
			passenger_count INT,
			delay_minutes INT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trip_transitions_session ON trip_transitions(session_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS location_samples (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES tracking_sessions(id) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			speed DOUBLE PRECISION,
			heading DOUBLE PRECISION,
			accuracy DOUBLE PRECISION,
			captured_at BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_samples_session ON location_samples(session_id, captured_at DESC)`,

		`CREATE TABLE IF NOT EXISTS reminder_records (
			id TEXT PRIMARY KEY,
			departure_id TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL CHECK(status IN ('dispatching', 'completed')),
			sent_at BIGINT NOT NULL,
			sent_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			error_summary TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS notification_attempts (
			id TEXT PRIMARY KEY,
			reminder_id TEXT REFERENCES reminder_records(id) ON DELETE CASCADE,
			batch_id TEXT NOT NULL,
			departure_id TEXT,
			recipient_name TEXT NOT NULL DEFAULT '',
			recipient_phone TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('PENDING', 'SENT', 'FAILED')),
			failure_class TEXT CHECK(failure_class IN ('transient', 'permanent', 'unavailable')),
			error_detail TEXT,
			attempt_count INT NOT NULL DEFAULT 0,
			last_attempted_at BIGINT,
			gateway_message_id TEXT,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_attempts_reminder ON notification_attempts(reminder_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_attempts_batch ON notification_attempts(batch_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}

// Tables lists the tables Migrate manages, in creation order
var Tables = []string{
	"users", "fcm_tokens", "routes", "departures", "bookings",
	"tracking_sessions", "trip_transitions", "location_samples",
	"reminder_records", "notification_attempts",
}

// TableCounts returns the row count of every managed table
func TableCounts(ctx context.Context, db *sqlx.DB) (map[string]int, error) {
	counts := make(map[string]int, len(Tables))
	for _, table := range Tables {
		var n int
		// table names come from the fixed list above
		if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
