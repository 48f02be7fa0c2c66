package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/clinicops/secobs/internal/app"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/logger"
)

var verbose bool

func loadConfig() (*config.Config, logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Config{Level: level, Format: "text", ServiceName: "secobsctl", Output: os.Stderr})
	return cfg, log, nil
}

// withApp wires the full application against the configured database and
// closes it once fn returns.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
