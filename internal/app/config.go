package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
	"github.com/vladislavdragonenkov/cafe/internal/storage/postgres"
)

// Драйверы хранилищ.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverSQLite   = "sqlite"
	StorageDriverRedis    = "redis"
)

// Config описывает настройки запуска сервиса кофейни.
type Config struct {
	HTTPAddr    string
	MetricsAddr string
	GRPCAddr    string
	LogLevel    string

	// CartDriver: memory или sqlite.
	CartDriver string
	SQLitePath string

	// StorageDriver: хранилище заказов, outbox, истории и ключей идемпотентности: memory или postgres.
	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	PostgresPool        postgres.PoolConfig

	// WalletDriver: memory, postgres или redis.
	WalletDriver  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// MenuCacheTTL включает кеш меню в Redis, если задан RedisAddr.
	MenuCacheTTL time.Duration

	KafkaBrokers       []string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	Breaker        checkout.BreakerConfig
	Currency       string
	RequestTimeout time.Duration

	// SeedBalances: стартовые балансы кошельков для memory-хранилища, user=amount.
	SeedBalances map[string]int64
}

// DefaultConfig возвращает настройки локального запуска: всё в памяти, без Kafka.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		GRPCAddr:                    ":50051",
		LogLevel:                    "info",
		CartDriver:                  StorageDriverMemory,
		SQLitePath:                  "cafe-cart.db",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresPool:                postgres.DefaultPoolConfig,
		WalletDriver:                StorageDriverMemory,
		MenuCacheTTL:                10 * time.Minute,
		KafkaConsumerGroup:          "cafe-service",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		Breaker:                     checkout.DefaultBreakerConfig(),
		Currency:                    "USD",
		RequestTimeout:              10 * time.Second,
	}
}

// LoadConfigFromEnv накладывает переменные окружения CAFE_* на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	env := envReader{lookup: lookup}

	env.str("CAFE_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("CAFE_METRICS_ADDR", &cfg.MetricsAddr)
	env.str("CAFE_GRPC_ADDR", &cfg.GRPCAddr)
	env.str("CAFE_LOG_LEVEL", &cfg.LogLevel)
	env.str("CAFE_CART_DRIVER", &cfg.CartDriver)
	env.str("CAFE_SQLITE_PATH", &cfg.SQLitePath)
	env.str("CAFE_STORAGE_DRIVER", &cfg.StorageDriver)
	env.str("CAFE_POSTGRES_DSN", &cfg.PostgresDSN)
	env.boolean("CAFE_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	env.integer("CAFE_POSTGRES_MAX_OPEN_CONNS", &cfg.PostgresPool.MaxOpenConns)
	env.integer("CAFE_POSTGRES_MAX_IDLE_CONNS", &cfg.PostgresPool.MaxIdleConns)
	env.str("CAFE_WALLET_DRIVER", &cfg.WalletDriver)
	env.str("CAFE_REDIS_ADDR", &cfg.RedisAddr)
	env.str("CAFE_REDIS_PASSWORD", &cfg.RedisPassword)
	env.integer("CAFE_REDIS_DB", &cfg.RedisDB)
	env.duration("CAFE_MENU_CACHE_TTL", &cfg.MenuCacheTTL)
	env.list("CAFE_KAFKA_BROKERS", &cfg.KafkaBrokers)
	env.str("CAFE_KAFKA_CONSUMER_GROUP", &cfg.KafkaConsumerGroup)
	env.duration("CAFE_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	env.integer("CAFE_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	env.integer("CAFE_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	env.duration("CAFE_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	env.duration("CAFE_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	env.duration("CAFE_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	env.integer("CAFE_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	env.uint32("CAFE_BREAKER_FAILURES", &cfg.Breaker.ConsecutiveFailures)
	env.duration("CAFE_BREAKER_TIMEOUT", &cfg.Breaker.Timeout)
	env.str("CAFE_CURRENCY", &cfg.Currency)
	env.duration("CAFE_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	env.balances("CAFE_SEED_BALANCES", &cfg.SeedBalances)

	if env.err != nil {
		return Config{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.CartDriver {
	case StorageDriverMemory:
	case StorageDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlite path is required for cart driver %q", c.CartDriver)
		}
	default:
		return fmt.Errorf("unsupported cart driver %q", c.CartDriver)
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres dsn is required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.WalletDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.StorageDriver != StorageDriverPostgres {
			return fmt.Errorf("wallet driver %q requires storage driver %q", c.WalletDriver, StorageDriverPostgres)
		}
	case StorageDriverRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("redis addr is required for wallet driver %q", c.WalletDriver)
		}
	default:
		return fmt.Errorf("unsupported wallet driver %q", c.WalletDriver)
	}

	if strings.TrimSpace(c.Currency) == "" {
		return fmt.Errorf("currency is required")
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 || c.OutboxPollInterval <= 0 {
		return fmt.Errorf("outbox batch size, max attempts and poll interval must be positive")
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		return fmt.Errorf("idempotency cleanup interval and batch size must be positive")
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("idempotency ttl must be positive")
	}
	return nil
}

// envReader копит первую ошибку разбора, чтобы loadConfig оставался линейным.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *envReader) value(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	raw, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) fail(key, raw string, err error) {
	r.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
}

func (r *envReader) str(key string, dst *string) {
	if raw, ok := r.value(key); ok {
		*dst = raw
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) integer(key string, dst *int) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) uint32(key string, dst *uint32) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = uint32(v)
}

func (r *envReader) duration(key string, dst *time.Duration) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(key, raw, err)
		return
	}
	*dst = v
}

func (r *envReader) list(key string, dst *[]string) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	*dst = splitList(raw)
}

func (r *envReader) balances(key string, dst *map[string]int64) {
	raw, ok := r.value(key)
	if !ok {
		return
	}
	out := make(map[string]int64)
	for _, pair := range splitList(raw) {
		user, amount, found := strings.Cut(pair, "=")
		user = strings.TrimSpace(user)
		if !found || user == "" {
			r.fail(key, raw, fmt.Errorf("expected user=amount, got %q", pair))
			return
		}
		v, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || v < 0 {
			r.fail(key, raw, fmt.Errorf("balance for %s must be a non-negative integer", user))
			return
		}
		out[user] = v
	}
	*dst = out
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
