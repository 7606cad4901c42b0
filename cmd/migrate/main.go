package main

import (
	"fmt"
	"os"

	"github.com/tullo/moderation/config"
	"github.com/tullo/moderation/internal/database"
	applog "github.com/tullo/moderation/internal/logger"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/migrate/main.go [up|status]")
		os.Exit(1)
	}

	command := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := applog.New(cfg.Server.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	switch command {
	case "up":
		logger.Info("running migrations")
		applied, err := database.RunMigrations(db.DB)
		if err != nil {
			logger.Fatal("migration failed", zap.Ints("applied", applied), zap.Error(err))
		}
		if len(applied) == 0 {
			logger.Info("schema is up to date")
			return
		}
		logger.Info("migrations completed", zap.Ints("applied", applied))

	case "status":
		applied, err := database.Status(db.DB)
		if err != nil {
			logger.Fatal("failed to read migration status", zap.Error(err))
		}
		fmt.Println("\nApplied Migrations:")
		fmt.Println("-------------------")
		for _, m := range applied {
			fmt.Printf("Version %d - Applied at: %s\n", m.Version, m.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		if pending := len(database.Migrations) - len(applied); pending > 0 {
			fmt.Printf("\n%d pending\n", pending)
		}

	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Available commands: up, status")
		os.Exit(1)
	}
}
