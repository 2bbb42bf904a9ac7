package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/database"
	"github.com/fanclub/backend/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/main.go [up|down|status]")
		os.Exit(1)
	}

	command := os.Args[1]
	logger.SetPrefix("migrate")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	switch command {
	case "up":
		fmt.Println("Running migrations...")
		if err := database.RunMigrations(db); err != nil {
			logger.Fatalf("Migration failed: %v", err)
		}
		fmt.Println("Migrations completed successfully")

	case "down":
		version, err := database.RollbackLast(db)
		if err != nil {
			logger.Fatalf("Rollback failed: %v", err)
		}
		if version == 0 {
			fmt.Println("Nothing to roll back")
			return
		}
		fmt.Printf("Rolled back migration %d\n", version)

	case "status":
		showMigrationStatus(db)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Available commands: up, down, status")
		os.Exit(1)
	}
}

func showMigrationStatus(db *sql.DB) {
	applied := make(map[int]time.Time)
	rows, err := db.Query("SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		fmt.Printf("No migrations applied yet: %v\n", err)
	} else {
		defer rows.Close()
		for rows.Next() {
			var version int
			var appliedAt time.Time
			if err := rows.Scan(&version, &appliedAt); err != nil {
				fmt.Printf("Error scanning row: %v\n", err)
				continue
			}
			applied[version] = appliedAt
		}
	}

	fmt.Println("\nMigrations:")
	fmt.Println("-----------")
	for _, m := range database.Migrations {
		if at, ok := applied[m.Version]; ok {
			fmt.Printf("Version %d - %s - applied at %s\n", m.Version, m.Description, at.Format(time.RFC3339))
		} else {
			fmt.Printf("Version %d - %s - pending\n", m.Version, m.Description)
		}
	}
}
