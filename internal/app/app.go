// Package app wires configuration, storage and use cases into a runnable
// security subsystem shared by the server and the admin CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/clinicops/secobs/internal/adapter/auth"
	"github.com/clinicops/secobs/internal/adapter/cache"
	"github.com/clinicops/secobs/internal/adapter/geo"
	"github.com/clinicops/secobs/internal/adapter/hashing"
	"github.com/clinicops/secobs/internal/adapter/lock"
	"github.com/clinicops/secobs/internal/adapter/persistence"
	"github.com/clinicops/secobs/internal/config"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/ports"
	"github.com/clinicops/secobs/internal/scheduler"
	"github.com/clinicops/secobs/internal/usecase"
)

// App holds every long-lived component
type App struct {
	Config *config.Config
	Log    logger.Logger

	DB    *sql.DB
	Redis *redis.Client

	Audit     *usecase.AuditChain
	Baselines *usecase.BaselineUseCase
	Anomalies *usecase.AnomalyUseCase
	Logins    *usecase.LoginEventUseCase
	Scheduler *scheduler.Scheduler
	Tokens    *auth.TokenService
}

// Options controls optional startup steps
type Options struct {
	// Migrate applies pending schema migrations before wiring.
	Migrate bool
}

// New connects to storage and builds the use cases. Redis is optional: when
// REDIS_URL is empty or unreachable the geo cache is disabled and the
// recalculation lock is process-local.
func New(ctx context.Context, cfg *config.Config, log logger.Logger, opts Options) (*App, error) {
	db, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "Database connection established", map[string]interface{}{
		"max_open_conns": cfg.Database.MaxOpenConns,
	})

	a := &App{Config: cfg, Log: log, DB: db}

	if opts.Migrate {
		if err := persistence.NewMigrator(db, log).Up(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var (
		store   cache.Store
		runLock ports.RunLock = lock.NewLocalLock()
	)
	if cfg.Redis.URL != "" {
		client, err := cache.Connect(ctx, cfg.Redis.URL, log)
		if err != nil {
			log.Warn(ctx, "Redis unavailable; continuing without shared cache and lock", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			a.Redis = client
			store = cache.NewRedisStore(client, "secobs:geo:")
			runLock = lock.NewRedisLock(client, "secobs:lock:")
		}
	}

	var hasher ports.EmailHasher
	if cfg.Security.EmailHashSecret != "" {
		h, err := hashing.NewEmailHasher(cfg.Security.EmailHashSecret)
		if err != nil {
			a.Close()
			return nil, err
		}
		hasher = h
	} else {
		log.Warn(ctx, "EMAIL_HASH_SECRET not set; email lookups use the plaintext column only", nil)
	}

	tokens, err := auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Tokens = tokens

	auditRepo := persistence.NewPostgresAuditRepository(db)
	guard := persistence.NewPostgresAuditGuard(db)
	activity := persistence.NewPostgresActivityReader(db)
	baselineRepo := persistence.NewPostgresBaselineRepository(db)
	anomalyRepo := persistence.NewPostgresAnomalyRepository(db)
	users := persistence.NewPostgresUserDirectory(db)

	loc := cfg.Location()
	resolver := usecase.NewIdentityResolver(users, hasher)

	a.Audit = usecase.NewAuditChain(auditRepo, guard, log)
	a.Baselines = usecase.NewBaselineUseCase(
		resolver,
		users,
		activity,
		baselineRepo,
		geo.New(cfg.Geo, store, log),
		usecase.BaselineSettings{WindowDays: cfg.Baseline.WindowDays, Location: loc},
		log,
	)
	detector := usecase.NewDetector(baselineRepo, anomalyRepo, usecase.DetectorSettings{
		RareActionRatio: cfg.Anomaly.RareActionRatio,
		Location:        loc,
	}, log)
	a.Anomalies = usecase.NewAnomalyUseCase(anomalyRepo, log)
	a.Logins = usecase.NewLoginEventUseCase(a.Audit, resolver, detector, log)

	hour, minute, err := config.ParseClock(cfg.Scheduler.Schedule)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid baseline schedule: %w", err)
	}
	a.Scheduler = scheduler.New(a.Baselines, runLock, scheduler.Settings{
		Hour:     hour,
		Minute:   minute,
		Location: loc,
		LockTTL:  cfg.Scheduler.LockTTL,
	}, log)

	return a, nil
}

// Ready pings every backing store
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
