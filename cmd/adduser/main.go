package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/config"
	"shuttle-backend/internal/database"
	"shuttle-backend/internal/models"
	"shuttle-backend/internal/notify"
)

// Creates a driver or ops account:
//
//	go run ./cmd/adduser -email ana@example.com -name Ana -role driver -phone "+1 555 0100" -password secret
func main() {
	email := flag.String("email", "", "login email (required)")
	name := flag.String("name", "", "display name (required)")
	role := flag.String("role", models.RoleDriver, "driver or admin")
	phone := flag.String("phone", "", "contact number shown to passengers (drivers)")
	password := flag.String("password", "", "initial password (required)")
	flag.Parse()

	if *email == "" || *name == "" || *password == "" {
		flag.Usage()
		log.Fatal("email, name and password are required")
	}
	if *role != models.RoleDriver && *role != models.RoleAdmin {
		log.Fatalf("role must be %q or %q", models.RoleDriver, models.RoleAdmin)
	}

	user := &models.User{
		Email: strings.ToLower(strings.TrimSpace(*email)),
		Name:  *name,
		Role:  *role,
	}
	if *phone != "" {
		normalized, ok := notify.NormalizePhone(*phone)
		if !ok {
			log.Fatalf("❌ Invalid phone number: %s", *phone)
		}
		user.Phone = &normalized
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	user.Password = string(hash)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	db, err := database.Connect(cfg.Database.Driver, cfg.Database.URL, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("🔌 Connected to database")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.NewUserStore(db).Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			log.Printf("⚠️  User already exists: %s", user.Email)
			return
		}
		log.Fatalf("❌ Failed to create user %s: %v", user.Email, err)
	}
	log.Printf("✅ Created %s user: %s (%s)", user.Role, user.Email, user.ID)
}
