package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

const envPrefix = "CAMPUSMARKET_"

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr      string
	AdminGRPCAddr string
	MetricsAddr   string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	MongoURI            string
	MongoDatabase       string

	JWTSecret      string
	AuthDisabled   bool
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	KafkaBrokers     []string
	KafkaEventsTopic string
	KafkaDLQTopic    string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ReconcileInterval time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		AdminGRPCAddr:               ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		MongoDatabase:               "campusmarket",
		CORSOrigins:                 []string{"*"},
		RateLimitRPS:                20,
		RateLimitBurst:              40,
		KafkaEventsTopic:            "campusmarket.lifecycle.events",
		KafkaDLQTopic:               "campusmarket.dlq",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            100 * time.Millisecond,
		ReconcileInterval:           time.Minute,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		LogLevel:                    "info",
		LogFormat:                   "text",
	}
}

// LoadConfig читает .env (если он есть) и переменные окружения поверх DefaultConfig.
// Явно заданный CAMPUSMARKET_ENV_FILE обязан существовать.
func LoadConfig() (Config, error) {
	if path := strings.TrimSpace(os.Getenv(envPrefix + "ENV_FILE")); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load env file %s: %w", path, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	r := envReader{}

	cfg.HTTPAddr = r.str("HTTP_ADDR", cfg.HTTPAddr)
	cfg.AdminGRPCAddr = r.str("ADMIN_GRPC_ADDR", cfg.AdminGRPCAddr)
	cfg.MetricsAddr = r.str("METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(r.str("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = r.str("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = r.boolean("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.MongoURI = r.str("MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = r.str("MONGO_DATABASE", cfg.MongoDatabase)

	cfg.JWTSecret = r.str("JWT_SECRET", cfg.JWTSecret)
	cfg.AuthDisabled = r.boolean("AUTH_DISABLED", cfg.AuthDisabled)
	cfg.CORSOrigins = r.list("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.RateLimitRPS = r.float("RATE_LIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = r.integer("RATE_LIMIT_BURST", cfg.RateLimitBurst)

	// KAFKA_BROKERS без префикса, как в docker-compose окружениях.
	cfg.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaEventsTopic = r.str("KAFKA_EVENTS_TOPIC", cfg.KafkaEventsTopic)
	cfg.KafkaDLQTopic = r.str("KAFKA_DLQ_TOPIC", cfg.KafkaDLQTopic)

	cfg.OutboxPollInterval = r.duration("OUTBOX_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = r.integer("OUTBOX_BATCH", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = r.integer("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = r.duration("OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)

	cfg.ReconcileInterval = r.duration("RECONCILE_INTERVAL", cfg.ReconcileInterval)

	cfg.IdempotencyTTL = r.duration("IDEMPOTENCY_TTL", cfg.IdempotencyTTL)
	cfg.IdempotencyCleanupInterval = r.duration("IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval)
	cfg.IdempotencyCleanupBatchSize = r.integer("IDEMPOTENCY_CLEANUP_BATCH", cfg.IdempotencyCleanupBatchSize)

	cfg.LogLevel = r.str("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = r.str("LOG_FORMAT", cfg.LogFormat)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек и возвращает все найденные проблемы.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	case StorageDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			errs = append(errs, errors.New("mongo uri is required for mongo storage"))
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			errs = append(errs, errors.New("mongo database is required for mongo storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if !c.AuthDisabled && strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("jwt secret is required unless auth is disabled"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("rate limit rps must be >= 0"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("rate limit burst must be > 0"))
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox interval, batch and max attempts must be positive"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("reconcile interval must be positive"))
	}
	if c.IdempotencyTTL <= 0 || c.IdempotencyCleanupInterval <= 0 {
		errs = append(errs, errors.New("idempotency ttl and cleanup interval must be positive"))
	}

	return errors.Join(errs...)
}

// envReader читает CAMPUSMARKET_* переменные и копит ошибки разбора.
type envReader struct {
	errs []error
}

func (r *envReader) lookup(name string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r *envReader) str(name, def string) string {
	if value, ok := r.lookup(name); ok {
		return value
	}
	return def
}

func (r *envReader) list(name string, def []string) []string {
	if value, ok := r.lookup(name); ok {
		return splitList(value)
	}
	return def
}

func (r *envReader) boolean(name string, def bool) bool {
	value, ok := r.lookup(name)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return def
	}
	return parsed
}

func (r *envReader) integer(name string, def int) int {
	value, ok := r.lookup(name)
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return def
	}
	return parsed
}

func (r *envReader) float(name string, def float64) float64 {
	value, ok := r.lookup(name)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return def
	}
	return parsed
}

func (r *envReader) duration(name string, def time.Duration) time.Duration {
	value, ok := r.lookup(name)
	if !ok {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
