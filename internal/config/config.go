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
	Escalation   EscalationConfig
	Intake       IntakeConfig
	Embedding    EmbeddingConfig
	Events       EventsConfig
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
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines how bearer tokens issued by the identity service are
// verified and where role reference data lives.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	RolesFile             string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// EscalationConfig tunes the SLA scheduler and reopen policy.
type EscalationConfig struct {
	SchedulerEnabled    bool
	ScanIntervalSeconds int
	LeaseSeconds        int
	ReopenWindowHours   int
}

// IntakeConfig tunes duplicate detection during ticket creation.
type IntakeConfig struct {
	SimilarityThreshold     float64
	EmbeddingTimeoutSeconds int
}

// EmbeddingConfig points at an OpenAI-compatible embeddings endpoint.
type EmbeddingConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// EventsConfig controls the external event stream and the outbox relay
// that feeds it.
type EventsConfig struct {
	RedisStream         string
	MaxLen              int64
	RelayIntervalMillis int
	RelayBatchSize      int
	RetentionHours      int
}

// Load reads configuration from environment variables, applying defaults where possible.
// envFiles are passed to godotenv; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	_ = godotenv.Load(envFiles...)

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	threshold, err := strconv.ParseFloat(getEnv("DUPLICATE_SIMILARITY_THRESHOLD", "0.85"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DUPLICATE_SIMILARITY_THRESHOLD: %w", err)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("DUPLICATE_SIMILARITY_THRESHOLD must be in (0,1], got %v", threshold)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "campus-helpdesk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			RolesFile:             os.Getenv("AUTH_ROLES_FILE"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Escalation: EscalationConfig{
			SchedulerEnabled:    getEnvAsBool("ESCALATION_SCHEDULER_ENABLED", true),
			ScanIntervalSeconds: getEnvAsInt("ESCALATION_SCAN_INTERVAL_SECONDS", 60),
			LeaseSeconds:        getEnvAsInt("ESCALATION_LEASE_SECONDS", 0),
			ReopenWindowHours:   getEnvAsInt("TICKET_REOPEN_WINDOW_HOURS", 168),
		},
		Intake: IntakeConfig{
			SimilarityThreshold:     threshold,
			EmbeddingTimeoutSeconds: getEnvAsInt("EMBEDDING_TIMEOUT_SECONDS", 5),
		},
		Embedding: EmbeddingConfig{
			APIKey:  os.Getenv("EMBEDDING_API_KEY"),
			BaseURL: os.Getenv("EMBEDDING_BASE_URL"),
			Model:   getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		},
		Events: EventsConfig{
			RedisStream:         getEnv("EVENTS_REDIS_STREAM", "helpdesk.events"),
			MaxLen:              int64(getEnvAsInt("EVENTS_REDIS_STREAM_MAXLEN", 100000)),
			RelayIntervalMillis: getEnvAsInt("EVENTS_RELAY_INTERVAL_MS", 500),
			RelayBatchSize:      getEnvAsInt("EVENTS_RELAY_BATCH_SIZE", 100),
			RetentionHours:      getEnvAsInt("EVENTS_OUTBOX_RETENTION_HOURS", 72),
		},
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

// RelayInterval is the pause between outbox relay passes.
func (e EventsConfig) RelayInterval() time.Duration {
	if e.RelayIntervalMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(e.RelayIntervalMillis) * time.Millisecond
}

// Retention is how long delivered outbox rows are kept.
func (e EventsConfig) Retention() time.Duration {
	if e.RetentionHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(e.RetentionHours) * time.Hour
}

// ScanInterval is the scheduler polling period; it bounds how stale an
// expired deadline can get before escalation.
func (e EscalationConfig) ScanInterval() time.Duration {
	if e.ScanIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(e.ScanIntervalSeconds) * time.Second
}

// Lease returns how long one replica holds the scan lease. Defaults to
// twice the scan interval.
func (e EscalationConfig) Lease() time.Duration {
	if e.LeaseSeconds <= 0 {
		return 2 * e.ScanInterval()
	}
	return time.Duration(e.LeaseSeconds) * time.Second
}

// ReopenWindow returns how long after resolution a ticket may be reopened.
func (e EscalationConfig) ReopenWindow() time.Duration {
	if e.ReopenWindowHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(e.ReopenWindowHours) * time.Hour
}

// EmbeddingTimeout bounds the synchronous embedding call during intake.
func (i IntakeConfig) EmbeddingTimeout() time.Duration {
	if i.EmbeddingTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(i.EmbeddingTimeoutSeconds) * time.Second
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
