package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Security  SecurityConfig  `json:"security"`
	Geo       GeoConfig       `json:"geo"`
	Baseline  BaselineConfig  `json:"baseline"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Anomaly   AnomalyConfig   `json:"anomaly"`
	Audit     AuditConfig     `json:"audit"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Port            string        `json:"port"`
	Host            string        `json:"host"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Environment     string        `json:"environment"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `json:"-"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration. An empty URL disables Redis.
type RedisConfig struct {
	URL string `json:"-"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json, text
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWTSecret       string        `json:"-"`
	JWTExpiration   time.Duration `json:"jwt_expiration"`
	EmailHashSecret string        `json:"-"`
	CORSOrigins     []string      `json:"cors_origins"`
}

// GeoConfig configures the IP geolocation provider
type GeoConfig struct {
	ProviderURL  string        `json:"provider_url"`
	Timeout      time.Duration `json:"timeout"`
	BatchSize    int           `json:"batch_size"`
	BatchDelay   time.Duration `json:"batch_delay"`
	CacheEnabled bool          `json:"cache_enabled"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// BaselineConfig configures baseline aggregation
type BaselineConfig struct {
	WindowDays int    `json:"window_days"`
	Timezone   string `json:"timezone"`
}

// SchedulerConfig configures the daily recalculation job
type SchedulerConfig struct {
	Enabled  bool          `json:"enabled"`
	Schedule string        `json:"schedule"` // HH:MM wall clock in baseline timezone
	LockTTL  time.Duration `json:"lock_ttl"`
}

// AnomalyConfig tunes the detector
type AnomalyConfig struct {
	RareActionRatio float64 `json:"rare_action_ratio"`
}

// AuditConfig configures the audit chain
type AuditConfig struct {
	ImmutabilityEnabled bool `json:"immutability_enabled"`
}

const defaultJWTSecret = "change-me-in-production"

// Load loads configuration from a .env file (if present) and environment variables
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set env directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Security: SecurityConfig{
			JWTSecret:       getEnv("JWT_SECRET", defaultJWTSecret),
			JWTExpiration:   getEnvDuration("JWT_EXPIRATION", time.Hour),
			EmailHashSecret: getEnv("EMAIL_HASH_SECRET", ""),
			CORSOrigins:     getEnvSlice("CORS_ORIGINS", []string{"*"}),
		},
		Geo: GeoConfig{
			ProviderURL:  getEnv("GEO_PROVIDER_URL", "http://ip-api.com/json"),
			Timeout:      getEnvDuration("GEO_TIMEOUT", 3*time.Second),
			BatchSize:    getEnvInt("GEO_BATCH_SIZE", 5),
			BatchDelay:   getEnvDuration("GEO_BATCH_DELAY", time.Second),
			CacheEnabled: getEnvBool("GEO_CACHE_ENABLED", true),
			CacheTTL:     getEnvDuration("GEO_CACHE_TTL", 24*time.Hour),
		},
		Baseline: BaselineConfig{
			WindowDays: getEnvInt("BASELINE_WINDOW_DAYS", 30),
			Timezone:   getEnv("BASELINE_TIMEZONE", "UTC"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnvBool("SCHEDULER_ENABLED", true),
			Schedule: getEnv("BASELINE_SCHEDULE", "03:00"),
			LockTTL:  getEnvDuration("SCHEDULER_LOCK_TTL", 2*time.Hour),
		},
		Anomaly: AnomalyConfig{
			RareActionRatio: getEnvFloat("ANOMALY_RARE_ACTION_RATIO", 0.01),
		},
		Audit: AuditConfig{
			ImmutabilityEnabled: getEnvBool("AUDIT_IMMUTABILITY_ENABLED", true),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.IsProduction() {
		if c.Security.JWTSecret == "" || c.Security.JWTSecret == defaultJWTSecret {
			return fmt.Errorf("JWT secret must be set in production")
		}
		if c.Security.EmailHashSecret == "" {
			return fmt.Errorf("EMAIL_HASH_SECRET must be set in production")
		}
	}

	if c.Baseline.WindowDays <= 0 {
		return fmt.Errorf("BASELINE_WINDOW_DAYS must be positive, got %d", c.Baseline.WindowDays)
	}

	if _, err := time.LoadLocation(c.Baseline.Timezone); err != nil {
		return fmt.Errorf("invalid BASELINE_TIMEZONE %q: %w", c.Baseline.Timezone, err)
	}

	if _, _, err := ParseClock(c.Scheduler.Schedule); err != nil {
		return fmt.Errorf("invalid BASELINE_SCHEDULE: %w", err)
	}

	if c.Geo.BatchSize <= 0 {
		return fmt.Errorf("GEO_BATCH_SIZE must be positive, got %d", c.Geo.BatchSize)
	}

	if c.Anomaly.RareActionRatio < 0 || c.Anomaly.RareActionRatio >= 1 {
		return fmt.Errorf("ANOMALY_RARE_ACTION_RATIO must be in [0,1), got %v", c.Anomaly.RareActionRatio)
	}

	return nil
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Address returns the listen address for the HTTP server
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// Location returns the configured baseline timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Baseline.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// Helper functions for environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
