package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"shuttle-backend/internal/config"
	"shuttle-backend/internal/database"
)

// Applies the schema and prints how many rows each table holds. Useful
// before a deploy, since the server also migrates on boot.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := database.Connect(cfg.Database.Driver, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migration completed successfully!")

	if cfg.SeedDemoData {
		if err := database.SeedUsers(db); err != nil {
			log.Fatalf("Seeding users failed: %v", err)
		}
		if err := database.SeedDemoData(db, cfg.Location()); err != nil {
			log.Fatalf("Seeding demo data failed: %v", err)
		}
		log.Println("Demo data seeded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	counts, err := database.TableCounts(ctx, db)
	if err != nil {
		log.Fatalf("Failed to count rows: %v", err)
	}

	fmt.Println("\n=== Table Summary ===")
	for _, table := range database.Tables {
		fmt.Printf("%-24s %d\n", table, counts[table])
	}
}
