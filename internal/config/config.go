package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Redis        RedisConfig        `yaml:"redis"`
	NATS         NATSConfig         `yaml:"nats"`
	Logger       LoggerConfig       `yaml:"logger"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Assignment   AssignmentConfig   `yaml:"assignment"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `yaml:"name"`
	Env                   string `yaml:"env"`
	Host                  string `yaml:"host"`
	Port                  string `yaml:"port"`
	Version               string `yaml:"version"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	SeedFile              string `yaml:"seed_file"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	RunMigrations  bool   `yaml:"run_migrations"`
	MigrationsDir  string `yaml:"migrations_dir"`
	ConnMaxIdleSec int32  `yaml:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `yaml:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds NATS connection values. An empty URL disables NATS.
type NATSConfig struct {
	URL          string `yaml:"url"`
	LockBucket   string `yaml:"lock_bucket"`
	EventSubject string `yaml:"event_subject"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `yaml:"level"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string `yaml:"jwt_secret"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes"`
}

// NotificationConfig controls notification delivery and retries.
type NotificationConfig struct {
	EmailFrom        string `yaml:"email_from"`
	WebhookURL       string `yaml:"webhook_url"`
	WebhookTimeoutMs int    `yaml:"webhook_timeout_ms"`
	MaxAttempts      int    `yaml:"max_attempts"`
	RetryBaseMs      int    `yaml:"retry_base_ms"`
	RetryPollMs      int    `yaml:"retry_poll_ms"`
	RetryQueueKey    string `yaml:"retry_queue_key"`
}

// AssignmentConfig controls the lock manager and coordinator.
type AssignmentConfig struct {
	LockBackend           string `yaml:"lock_backend"`
	LockDurationSeconds   int    `yaml:"lock_duration_seconds"`
	LockMaxTotalSeconds   int    `yaml:"lock_max_total_seconds"`
	ResolutionStrategy    string `yaml:"resolution_strategy"`
	StoreRetryAttempts    int    `yaml:"store_retry_attempts"`
	StoreRetryBaseMs      int    `yaml:"store_retry_base_ms"`
	RequestTimeoutMs      int    `yaml:"request_timeout_ms"`
	ReaperIntervalSeconds int    `yaml:"reaper_interval_seconds"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		App: AppConfig{
			Name:                  "ticket-assignment-service",
			Env:                   "development",
			Host:                  "0.0.0.0",
			Port:                  "8080",
			Version:               "dev",
			RequestTimeoutSeconds: 30,
		},
		Postgres: PostgresConfig{
			MaxConns:       10,
			MinConns:       2,
			RunMigrations:  true,
			MigrationsDir:  "migrations",
			ConnMaxIdleSec: 30,
			ConnMaxLifeSec: 300,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		NATS: NATSConfig{
			LockBucket:   "assignment-locks",
			EventSubject: "assignments.events",
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Auth: AuthConfig{
			JWTSecret:             "dev-secret",
			AccessTokenTTLMinutes: 60,
		},
		Notification: NotificationConfig{
			EmailFrom:        "noreply@example.com",
			WebhookTimeoutMs: 5000,
			MaxAttempts:      3,
			RetryBaseMs:      2000,
			RetryPollMs:      500,
			RetryQueueKey:    "assignment:notify:retry",
		},
		Assignment: AssignmentConfig{
			LockBackend:           "redis",
			LockDurationSeconds:   300,
			LockMaxTotalSeconds:   1800,
			ResolutionStrategy:    "first_come_first_serve",
			StoreRetryAttempts:    3,
			StoreRetryBaseMs:      50,
			RequestTimeoutMs:      2000,
			ReaperIntervalSeconds: 60,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file named by CONFIG_FILE,
// and environment variables, in increasing order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", strconv.Itoa(cfg.Redis.DB)))
	if err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnv("APP_PORT", cfg.App.Port)
	cfg.App.Version = getEnv("APP_VERSION", cfg.App.Version)
	cfg.App.RequestTimeoutSeconds = getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", cfg.App.RequestTimeoutSeconds)
	cfg.App.SeedFile = getEnv("SEED_FILE", cfg.App.SeedFile)

	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	cfg.Postgres.MaxConns = int32(getEnvAsInt("POSTGRES_MAX_CONNS", int(cfg.Postgres.MaxConns)))
	cfg.Postgres.MinConns = int32(getEnvAsInt("POSTGRES_MIN_CONNS", int(cfg.Postgres.MinConns)))
	cfg.Postgres.RunMigrations = getEnvAsBool("POSTGRES_RUN_MIGRATIONS", cfg.Postgres.RunMigrations)
	cfg.Postgres.MigrationsDir = getEnv("POSTGRES_MIGRATIONS_DIR", cfg.Postgres.MigrationsDir)
	cfg.Postgres.ConnMaxIdleSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", int(cfg.Postgres.ConnMaxIdleSec)))
	cfg.Postgres.ConnMaxLifeSec = int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", int(cfg.Postgres.ConnMaxLifeSec)))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = redisDB

	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.LockBucket = getEnv("NATS_LOCK_BUCKET", cfg.NATS.LockBucket)
	cfg.NATS.EventSubject = getEnv("NATS_EVENT_SUBJECT", cfg.NATS.EventSubject)

	cfg.Logger.Level = getEnv("LOG_LEVEL", cfg.Logger.Level)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AccessTokenTTLMinutes = getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", cfg.Auth.AccessTokenTTLMinutes)

	cfg.Notification.EmailFrom = getEnv("NOTIFY_EMAIL_FROM", cfg.Notification.EmailFrom)
	cfg.Notification.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", cfg.Notification.WebhookURL)
	cfg.Notification.WebhookTimeoutMs = getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_MS", cfg.Notification.WebhookTimeoutMs)
	cfg.Notification.MaxAttempts = getEnvAsInt("NOTIFY_MAX_ATTEMPTS", cfg.Notification.MaxAttempts)
	cfg.Notification.RetryBaseMs = getEnvAsInt("NOTIFY_RETRY_BASE_MS", cfg.Notification.RetryBaseMs)
	cfg.Notification.RetryPollMs = getEnvAsInt("NOTIFY_RETRY_POLL_MS", cfg.Notification.RetryPollMs)
	cfg.Notification.RetryQueueKey = getEnv("NOTIFY_RETRY_QUEUE_KEY", cfg.Notification.RetryQueueKey)

	cfg.Assignment.LockBackend = getEnv("LOCK_BACKEND", cfg.Assignment.LockBackend)
	cfg.Assignment.LockDurationSeconds = getEnvAsInt("LOCK_DURATION_SECONDS", cfg.Assignment.LockDurationSeconds)
	cfg.Assignment.LockMaxTotalSeconds = getEnvAsInt("LOCK_MAX_TOTAL_SECONDS", cfg.Assignment.LockMaxTotalSeconds)
	cfg.Assignment.ResolutionStrategy = getEnv("CONFLICT_RESOLUTION_STRATEGY", cfg.Assignment.ResolutionStrategy)
	cfg.Assignment.StoreRetryAttempts = getEnvAsInt("LOCK_STORE_RETRY_ATTEMPTS", cfg.Assignment.StoreRetryAttempts)
	cfg.Assignment.StoreRetryBaseMs = getEnvAsInt("LOCK_STORE_RETRY_BASE_MS", cfg.Assignment.StoreRetryBaseMs)
	cfg.Assignment.RequestTimeoutMs = getEnvAsInt("ASSIGNMENT_REQUEST_TIMEOUT_MS", cfg.Assignment.RequestTimeoutMs)
	cfg.Assignment.ReaperIntervalSeconds = getEnvAsInt("LOCK_REAPER_INTERVAL_SECONDS", cfg.Assignment.ReaperIntervalSeconds)

	return nil
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

// LockDuration is the default reservation length.
func (a AssignmentConfig) LockDuration() time.Duration {
	return secondsOr(a.LockDurationSeconds, 5*time.Minute)
}

// LockMaxTotal caps how long a single lock may live, refreshes and extensions included.
func (a AssignmentConfig) LockMaxTotal() time.Duration {
	return secondsOr(a.LockMaxTotalSeconds, 30*time.Minute)
}

// RequestTimeout bounds a single coordinator call.
func (a AssignmentConfig) RequestTimeout() time.Duration {
	return millisOr(a.RequestTimeoutMs, 2*time.Second)
}

// StoreRetryBase is the first backoff step for lock store retries.
func (a AssignmentConfig) StoreRetryBase() time.Duration {
	return millisOr(a.StoreRetryBaseMs, 50*time.Millisecond)
}

// ReaperInterval is the period of the expired lock reaper.
func (a AssignmentConfig) ReaperInterval() time.Duration {
	return secondsOr(a.ReaperIntervalSeconds, time.Minute)
}

// RetryBase is the first backoff step for notification retries.
func (n NotificationConfig) RetryBase() time.Duration {
	return millisOr(n.RetryBaseMs, 2*time.Second)
}

// RetryPoll is how often the retry worker looks for due notifications.
func (n NotificationConfig) RetryPoll() time.Duration {
	return millisOr(n.RetryPollMs, 500*time.Millisecond)
}

// WebhookTimeout bounds a single email webhook call.
func (n NotificationConfig) WebhookTimeout() time.Duration {
	return millisOr(n.WebhookTimeoutMs, 5*time.Second)
}

func secondsOr(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

func millisOr(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
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
