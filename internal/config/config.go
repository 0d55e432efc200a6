package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	Scanner      ScannerConfig
	Timeline     TimelineConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token parameters for the API.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// NotificationConfig describes where escalation notifications are published.
type NotificationConfig struct {
	AMQPURL              string
	Exchange             string
	RoutingKey           string
	AssignmentRoutingKey string
	EmailFrom            string
	Workers              int
}

// ScannerConfig controls the periodic escalation sweep.
type ScannerConfig struct {
	Enabled         bool
	IntervalSeconds int
	Workers         int
	LockTTLSeconds  int
}

// TimelineConfig controls timeline write serialization.
type TimelineConfig struct {
	CaseLockTTLSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "case-timeline-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			AMQPURL:              os.Getenv("AMQP_URL"),
			Exchange:             getEnv("NOTIFY_EXCHANGE", "cases"),
			RoutingKey:           getEnv("NOTIFY_ROUTING_KEY", "case.escalation.notify"),
			AssignmentRoutingKey: getEnv("NOTIFY_ASSIGNMENT_ROUTING_KEY", "case.assignment.notify"),
			EmailFrom:            getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			Workers:              getEnvAsInt("NOTIFY_WORKERS", 8),
		},
		Scanner: ScannerConfig{
			Enabled:         getEnvAsBool("ESCALATION_SCANNER_ENABLED", true),
			IntervalSeconds: getEnvAsInt("ESCALATION_SCAN_INTERVAL_SECONDS", 300),
			Workers:         getEnvAsInt("ESCALATION_SCAN_WORKERS", 4),
			LockTTLSeconds:  getEnvAsInt("ESCALATION_SCAN_LOCK_TTL_SECONDS", 600),
		},
		Timeline: TimelineConfig{
			CaseLockTTLSeconds: getEnvAsInt("TIMELINE_CASE_LOCK_TTL_SECONDS", 10),
		},
	}

	if cfg.Scanner.IntervalSeconds <= 0 {
		return nil, fmt.Errorf("invalid ESCALATION_SCAN_INTERVAL_SECONDS: %d", cfg.Scanner.IntervalSeconds)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Interval returns the scan cadence.
func (s ScannerConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// LockTTL returns how long a scanner lease is held before it expires on its own.
func (s ScannerConfig) LockTTL() time.Duration {
	if s.LockTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.LockTTLSeconds) * time.Second
}

// CaseLockTTL returns the lease duration for per-case timeline writes.
func (t TimelineConfig) CaseLockTTL() time.Duration {
	if t.CaseLockTTLSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.CaseLockTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
