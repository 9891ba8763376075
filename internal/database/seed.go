package database

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

const (
	demoDriverEmail = "driver@shuttle.local"
	demoAdminEmail  = "ops@shuttle.local"
)

func SeedUsers(db *sqlx.DB) error {
	// Check if users already exist
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	driverPassword, err := bcrypt.GenerateFromPassword([]byte("driver123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	adminPassword, err := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	users := []map[string]interface{}{
		{
			"id":       uuid.New().String(),
			"email":    demoDriverEmail,
			"password": string(driverPassword),
			"name":     "Sam Driver",
			"phone":    "+15550100001",
			"role":     "driver",
		},
		{
			"id":       uuid.New().String(),
			"email":    demoAdminEmail,
			"password": string(adminPassword),
			"name":     "Operations Desk",
			"phone":    nil,
			"role":     "admin",
		},
	}

	for _, user := range users {
		query := `
			INSERT INTO users (id, email, password, name, phone, role)
			VALUES (:id, :email, :password, :name, :phone, :role)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", user["email"], user["role"])
	}

	log.Println("✓ Successfully seeded test users")
	log.Printf("  📧 Driver: %s / driver123", demoDriverEmail)
	log.Printf("  📧 Ops:    %s / admin123", demoAdminEmail)
	return nil
}

// SeedDemoData creates one route with hourly departures for today, all
// assigned to the demo driver, each with a few bookings
func SeedDemoData(db *sqlx.DB, loc *time.Location) error {
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM departures"); err != nil {
		return err
	}
	if count > 0 {
		log.Println("✓ Departures already seeded, skipping...")
		return nil
	}

	var driverID string
	if err := db.Get(&driverID, "SELECT id FROM users WHERE email = $1", demoDriverEmail); err != nil {
		return fmt.Errorf("demo driver missing, seed users first: %w", err)
	}

	log.Println("🌱 Seeding demo route and departures...")

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	routeID := uuid.New().String()
	_, err = tx.Exec(`
		INSERT INTO routes (id, name, origin_name, origin_latitude, origin_longitude,
			destination_name, destination_latitude, destination_longitude,
			waypoint_name, waypoint_latitude, waypoint_longitude, scheduled_duration_minutes)
		VALUES ($1, 'Airport Express', 'Terminal 2', 40.6413, -73.7781,
			'Harbor Resort', 40.7033, -74.0170,
			'Midtown Hub', 40.7549, -73.9840, 75)
	`, routeID)
	if err != nil {
		return fmt.Errorf("failed to seed route: %w", err)
	}

	now := time.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	passengers := []struct{ name, phone string }{
		{"Ana Pereira", "+15550101001"},
		{"Ben Okafor", "+15550101002"},
		{"Chloe Martin", "+15550101003"},
	}

	departures := 0
	for hour := 6; hour <= 22; hour++ {
		depID := uuid.New().String()
		scheduled := day.Add(time.Duration(hour) * time.Hour)
		_, err := tx.Exec(`
			INSERT INTO departures (id, route_id, scheduled_at, capacity, driver_id, vehicle_code)
			VALUES ($1, $2, $3, 14, $4, 'SH-12')
		`, depID, routeID, scheduled.Unix(), driverID)
		if err != nil {
			return fmt.Errorf("failed to seed departure: %w", err)
		}
		for i, p := range passengers {
			status := "confirmed"
			if (hour+i)%7 == 0 {
				status = "cancelled"
			}
			_, err := tx.Exec(`
				INSERT INTO bookings (id, departure_id, passenger_name, phone, seats, status)
				VALUES ($1, $2, $3, $4, 1, $5)
			`, uuid.New().String(), depID, p.name, p.phone, status)
			if err != nil {
				return fmt.Errorf("failed to seed booking: %w", err)
			}
		}
		departures++
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("✓ Seeded route Airport Express with %d departures", departures)
	return nil
}
