package main

import (
	"log"
	"os"

	"github.com/safar/agri-supply-tracker/internal/config"
	"github.com/safar/agri-supply-tracker/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}

	direction := database.MigrationDirection(os.Args[1])
	if direction != database.MigrateUp && direction != database.MigrateDown {
		log.Fatal("Direction must be 'up' or 'down'")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		log.Fatalf("Connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, direction); err != nil {
		log.Fatalf("Run migrations: %v", err)
	}

	log.Printf("Migrations applied (%s)", direction)
}
