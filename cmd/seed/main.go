package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/clinicops/secobs/internal/adapter/hashing"
	"github.com/clinicops/secobs/internal/app"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/usecase"
)

// seed creates a demo user with a short login history written through the
// audit chain, then computes that user's baselines. Intended for local
// development databases only.
func main() {
	email := domain.NormalizeEmail(getenvDefault("SEED_USER_EMAIL", "demo@clinic.test"))
	role := getenvDefault("SEED_USER_ROLE", "physician")
	logins, err := strconv.Atoi(getenvDefault("SEED_LOGIN_COUNT", "20"))
	if err != nil || logins <= 0 {
		log.Fatalf("SEED_LOGIN_COUNT must be a positive integer")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("refusing to seed a production database")
	}

	ctx := context.Background()
	structuredLogger := logger.New(logger.Config{Level: cfg.Logging.Level, Format: "text", ServiceName: "secobs-seed", Output: os.Stderr})

	a, err := app.New(ctx, cfg, structuredLogger, app.Options{Migrate: true})
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	emailHash := ""
	if cfg.Security.EmailHashSecret != "" {
		h, err := hashing.NewEmailHasher(cfg.Security.EmailHashSecret)
		if err != nil {
			log.Fatalf("failed to init email hasher: %v", err)
		}
		emailHash = h.Hash(email)
	}

	var id int64
	err = a.DB.QueryRowContext(ctx, `SELECT id FROM users WHERE LOWER(email) = $1 ORDER BY id LIMIT 1`, email).Scan(&id)
	if err != nil {
		err = a.DB.QueryRowContext(ctx,
			`INSERT INTO users (email, email_hash, role, is_active) VALUES ($1, $2, $3, TRUE) RETURNING id`,
			email, emailHash, role).Scan(&id)
		if err != nil {
			log.Fatalf("failed to seed user: %v", err)
		}
	}

	actor := domain.Actor{UserID: &id, Email: &email, Role: &role}
	addresses := []string{"10.0.0.12", "10.0.0.12", "192.168.1.40"}
	for i := 0; i < logins; i++ {
		origin := domain.Origin{
			IPAddress: addresses[i%len(addresses)],
			UserAgent: "secobs-seed/1.0",
			Method:    "POST",
			Path:      "/v1/auth/login",
		}
		a.Audit.LogAuthentication(ctx, usecase.AuthOutcome{Actor: actor, Origin: origin, Success: true})
		a.Audit.LogPHIAccess(ctx, actor, origin, "view",
			domain.Resource{Type: "patient", ID: strconv.Itoa(1000 + i%5)}, nil)
	}

	baselines, err := a.Baselines.CalculateAll(ctx, domain.ByID(id))
	if err != nil {
		log.Fatalf("failed to calculate baselines: %v", err)
	}

	fmt.Printf("Seeded user: email=%s role=%s id=%d logins=%d baselines=%d\n", email, role, id, logins, len(baselines))
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
