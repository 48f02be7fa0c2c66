package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/clinicops/secobs/internal/adapter/persistence"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/logger"
)

func main() {
	mode := flag.String("mode", "up", "migration mode: up or down")
	steps := flag.Int("steps", 1, "number of migrations to revert in down mode (0 reverts all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	structuredLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "secobs-migrate",
		Output:      os.Stderr,
	})

	ctx := context.Background()
	db, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	m := persistence.NewMigrator(db, structuredLogger)

	switch strings.ToLower(*mode) {
	case "up":
		if err := m.Up(ctx); err != nil {
			log.Fatalf("migration up failed: %v", err)
		}
		structuredLogger.Info(ctx, "Migration up completed successfully", nil)
	case "down":
		if err := m.Down(ctx, *steps); err != nil {
			log.Fatalf("migration down failed: %v", err)
		}
		structuredLogger.Info(ctx, "Migration down completed successfully", map[string]interface{}{"steps": *steps})
	default:
		log.Fatalf("unknown mode: %s", *mode)
	}
}
