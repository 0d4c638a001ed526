package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageDriver выбирает backend хранилищ приложения.
type StorageDriver string

const (
	// StorageDriverMemory — потокобезопасные in-memory хранилища без внешних зависимостей.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — PostgreSQL через database/sql поверх драйвера pgx.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string
	KafkaTopic   string

	RedisAddr string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает значения по умолчанию: in-memory хранилища,
// без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig строит конфигурацию из переменных окружения BOOKCAFE_*,
// подхватывая .env файл, если он есть. Непереопределённые значения
// остаются по умолчанию.
func LoadConfig() Config {
	// .env опционален, его отсутствие не является ошибкой.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("BOOKCAFE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("BOOKCAFE_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(strings.ToLower(strings.TrimSpace(v)))
	}
	if v := os.Getenv("BOOKCAFE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("BOOKCAFE_POSTGRES_AUTO_MIGRATE"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}
	if v := os.Getenv("BOOKCAFE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("BOOKCAFE_KAFKA_TOPIC"); v != "" {
		cfg.KafkaTopic = v
	}
	if v := os.Getenv("BOOKCAFE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if d, ok := envDuration("BOOKCAFE_OUTBOX_POLL_INTERVAL"); ok {
		cfg.OutboxPollInterval = d
	}
	if n, ok := envInt("BOOKCAFE_OUTBOX_BATCH_SIZE"); ok {
		cfg.OutboxBatchSize = n
	}
	if n, ok := envInt("BOOKCAFE_OUTBOX_MAX_ATTEMPTS"); ok {
		cfg.OutboxMaxAttempts = n
	}
	if d, ok := envDuration("BOOKCAFE_OUTBOX_RETRY_DELAY"); ok {
		cfg.OutboxRetryDelay = d
	}
	if d, ok := envDuration("BOOKCAFE_IDEMPOTENCY_CLEANUP_INTERVAL"); ok {
		cfg.IdempotencyCleanupInterval = d
	}
	if n, ok := envInt("BOOKCAFE_IDEMPOTENCY_CLEANUP_BATCH_SIZE"); ok {
		cfg.IdempotencyCleanupBatchSize = n
	}

	return cfg
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
