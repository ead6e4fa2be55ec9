// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full configuration of the ledger binaries.
type Config struct {
	App      AppConfig
	Logger   LoggerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Ledger   LedgerConfig
}

type AppConfig struct {
	Env string
}

// IsDevelopment reports whether the process runs in development mode.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development"
}

type LoggerConfig struct {
	Level       string
	OutputPaths []string
}

type PostgresConfig struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	StatementTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LevelTTL time.Duration
	// ChannelPrefix prefixes the pub/sub channels of relayed events
	ChannelPrefix string
}

type WorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	CleanupInterval time.Duration
}

type LedgerConfig struct {
	// LevelAttempts bounds the version-guarded level update
	LevelAttempts int
	// GatePassDestination is used when a voucher has no location of work
	GatePassDestination string
}

// Load reads an optional .env file and then the environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Env: getEnv("APP_ENV", "development"),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			OutputPaths: getEnvSlice("LOG_OUTPUT", nil),
		},
		Postgres: PostgresConfig{
			DSN:               getEnv("DATABASE_URL", ""),
			MaxConns:          int32(getEnvInt("POSTGRES_MAX_CONNS", 25)),
			MinConns:          int32(getEnvInt("POSTGRES_MIN_CONNS", 2)),
			MaxConnLifetime:   getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", time.Hour),
			MaxConnIdleTime:   getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 30*time.Minute),
			HealthCheckPeriod: getEnvDuration("POSTGRES_HEALTH_CHECK_PERIOD", time.Minute),
			StatementTimeout:  getEnvDuration("POSTGRES_STATEMENT_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			LevelTTL:      getEnvDuration("REDIS_LEVEL_TTL", 5*time.Minute),
			ChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "stockledger.events."),
		},
		Worker: WorkerConfig{
			PollInterval:    getEnvDuration("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			BatchSize:       getEnvInt("WORKER_BATCH_SIZE", 100),
			CleanupInterval: getEnvDuration("WORKER_CLEANUP_INTERVAL", time.Hour),
		},
		Ledger: LedgerConfig{
			LevelAttempts:       getEnvInt("LEDGER_LEVEL_ATTEMPTS", 3),
			GatePassDestination: getEnv("LEDGER_GATE_PASS_DESTINATION", "Work Site"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and bounds.
func (c *Config) Validate() error {
	if c.Postgres.DSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("POSTGRES_MIN_CONNS (%d) exceeds POSTGRES_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	if c.Ledger.LevelAttempts < 1 {
		return fmt.Errorf("LEDGER_LEVEL_ATTEMPTS must be at least 1")
	}
	if c.Worker.BatchSize < 1 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}
