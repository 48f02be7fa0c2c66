package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/clinicops/secobs/internal/adapter/http"
	"github.com/clinicops/secobs/internal/adapter/persistence"
	"github.com/clinicops/secobs/internal/app"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/logger"
)

// Version and build information
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		version   = flag.Bool("version", false, "Show version information")
		migrate   = flag.Bool("migrate", false, "Run database migrations and exit")
		noMigrate = flag.Bool("skip-migrations", false, "Do not apply pending migrations on startup")
	)
	flag.Parse()

	if *version {
		fmt.Printf("Security Observability Service\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	structuredLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "secobs",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	structuredLogger.Info(ctx, "Application starting", map[string]interface{}{
		"version": Version,
		"env":     cfg.Server.Environment,
	})

	if *migrate {
		db, err := persistence.Open(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if err := persistence.NewMigrator(db, structuredLogger).Up(ctx); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		structuredLogger.Info(ctx, "Migrations completed successfully", nil)
		return
	}

	application, err := app.New(ctx, cfg, structuredLogger, app.Options{Migrate: !*noMigrate})
	if err != nil {
		structuredLogger.Error(ctx, "Failed to initialize application", err, nil)
		os.Exit(1)
	}
	defer application.Close()

	// Install the append-only triggers before any request can write.
	if cfg.Audit.ImmutabilityEnabled {
		application.Audit.EnsureImmutability(ctx)
	}

	if cfg.Scheduler.Enabled {
		application.Scheduler.Start(ctx)
		structuredLogger.Info(ctx, "Baseline scheduler started", map[string]interface{}{
			"schedule": cfg.Scheduler.Schedule,
			"timezone": cfg.Baseline.Timezone,
		})
	}

	server := httpadapter.NewServer(httpadapter.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		Production:   cfg.IsProduction(),
		CORSOrigins:  cfg.Security.CORSOrigins,
	}, httpadapter.Dependencies{
		Audit:     application.Audit,
		Baselines: application.Baselines,
		Sweep:     application.Scheduler,
		Anomalies: application.Anomalies,
		Logins:    application.Logins,
		Tokens:    application.Tokens,
		Ready:     application.Ready,
	}, structuredLogger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		structuredLogger.Info(ctx, "Shutdown signal received", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		structuredLogger.Error(ctx, "Server failed", err, nil)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		structuredLogger.Error(ctx, "Server forced to shutdown", err, nil)
	}
	if cfg.Scheduler.Enabled {
		application.Scheduler.Stop()
	}
	cancel()

	structuredLogger.Info(ctx, "Server exited", nil)
}
