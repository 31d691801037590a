package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/health"
	"github.com/vladislavdragonenkov/cafe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
	"github.com/vladislavdragonenkov/cafe/internal/service/cart"
	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
	"github.com/vladislavdragonenkov/cafe/internal/service/idempotency"
	"github.com/vladislavdragonenkov/cafe/internal/service/ledger"
	"github.com/vladislavdragonenkov/cafe/internal/service/orders"
	"github.com/vladislavdragonenkov/cafe/internal/service/outbox"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
	"github.com/vladislavdragonenkov/cafe/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/cafe/internal/storage/redis"
	"github.com/vladislavdragonenkov/cafe/internal/storage/sqlite"
	"github.com/vladislavdragonenkov/cafe/internal/version"
)

// Dependencies содержит собранные компоненты сервиса кофейни.
type Dependencies struct {
	Sessions    *cart.Sessions
	Catalog     domain.CatalogReader
	Ledger      *ledger.Ledger
	Orders      *orders.Service
	Coordinator *checkout.Coordinator

	Timeline    domain.TimelineRepository
	Outbox      domain.OutboxRepository
	Idempotency domain.IdempotencyRepository

	// Relay и Consumer равны nil, если Kafka не настроена.
	Relay    *outbox.Relay
	Sweeper  *idempotency.Sweeper
	Consumer *kafka.Consumer
	Producer *kafka.Producer

	Health *health.Handler

	closers []func() error
}

// Close освобождает ресурсы в порядке, обратном открытию.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

type repositories struct {
	orders      domain.OrderRepository
	timeline    domain.TimelineRepository
	outbox      domain.OutboxRepository
	idempotency domain.IdempotencyRepository
	accounts    domain.AccountStore
}

// NewDependencies собирает сервис по конфигурации. При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (deps *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = &Dependencies{Health: health.NewHandler(version.GetVersion())}
	defer func() {
		if err != nil {
			_ = deps.Close()
			deps = nil
		}
	}()

	registerer := prometheus.DefaultRegisterer

	repos, err := initStorage(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = initRedis(ctx, cfg, deps, logger)
		if err != nil {
			return nil, err
		}
	}

	if repos.accounts, err = initAccounts(ctx, cfg, repos.accounts, redisClient); err != nil {
		return nil, err
	}

	var catalog domain.CatalogReader = memory.NewCatalog()
	if redisClient != nil && cfg.MenuCacheTTL > 0 {
		catalog = redisstore.NewCatalogCache(redisClient, catalog,
			redisstore.WithTTL(cfg.MenuCacheTTL, cfg.MenuCacheTTL/5),
			redisstore.WithLogger(logger.WithField("component", "menu-cache")),
		)
	}
	deps.Catalog = catalog

	factory, err := initCartStores(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}
	deps.Sessions = cart.NewSessions(factory, catalog, logger.WithField("component", "cart-sessions"), metrics.NewCartMetricsWithRegisterer(registerer))
	deps.onClose(deps.Sessions.Close)

	deps.Ledger = ledger.New(repos.accounts, ledger.WithLogger(logger.WithField("component", "ledger")))
	deps.Timeline = repos.timeline
	deps.Idempotency = repos.idempotency

	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	if producer != nil {
		deps.Producer = producer
		deps.onClose(func() error { return closeKafka(producer, logger) })
		deps.Outbox = repos.outbox
	}

	orderOptions := []orders.Option{
		orders.WithTimeline(repos.timeline),
		orders.WithRefunder(deps.Ledger),
		orders.WithLogger(logger.WithField("component", "orders")),
	}
	coordinatorOptions := []checkout.Option{
		checkout.WithTimeline(repos.timeline),
		checkout.WithIdempotency(repos.idempotency, cfg.IdempotencyTTL),
		checkout.WithMetrics(metrics.NewCheckoutMetricsWithRegisterer(registerer)),
		checkout.WithCurrency(cfg.Currency),
		checkout.WithLogger(logger.WithField("component", "checkout")),
	}
	if deps.Outbox != nil {
		orderOptions = append(orderOptions, orders.WithOutbox(deps.Outbox))
		coordinatorOptions = append(coordinatorOptions, checkout.WithOutbox(deps.Outbox))
	}

	deps.Orders = orders.NewService(repos.orders, orderOptions...)
	sink := checkout.NewBreakerSink(deps.Orders, cfg.Breaker, logger.WithField("component", "order-sink-breaker"))
	deps.Coordinator = checkout.NewCoordinator(deps.Ledger, sink, coordinatorOptions...)

	deps.Sweeper = idempotency.NewSweeper(repos.idempotency,
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(registerer)),
		idempotency.WithLogger(logger.WithField("component", "idempotency-sweeper")),
	)

	if producer != nil {
		wireKafkaWorkers(cfg, deps, registerer, logger)
	}

	logger.WithFields(log.Fields{
		"cart_driver":    cfg.CartDriver,
		"storage_driver": cfg.StorageDriver,
		"wallet_driver":  cfg.WalletDriver,
		"menu_cache":     redisClient != nil,
		"kafka":          producer != nil,
	}).Info("dependencies initialized")
	return deps, nil
}

func initStorage(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) (repositories, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		return repositories{
			orders:      memory.NewOrderRepository(),
			timeline:    memory.NewTimelineRepository(),
			outbox:      memory.NewOutboxRepository(),
			idempotency: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, cfg.PostgresPool)
		if err != nil {
			return repositories{}, err
		}
		deps.onClose(store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return repositories{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		deps.Health.Register("postgres", true, store.Ping)
		logger.Info("postgres storage initialized")

		repos := repositories{
			orders:      postgres.NewOrderRepository(store),
			timeline:    postgres.NewTimelineRepository(store),
			outbox:      postgres.NewOutboxRepository(store),
			idempotency: postgres.NewIdempotencyRepository(store),
		}
		if cfg.WalletDriver == StorageDriverPostgres {
			repos.accounts = postgres.NewAccountStore(store)
		}
		return repos, nil
	default:
		return repositories{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initRedis(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) (*goredis.Client, error) {
	client, err := redisstore.Connect(ctx, redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, err
	}
	deps.onClose(client.Close)
	// Кошелёк в Redis делает его обязательным; кеш меню без Redis деградирует до каталога.
	deps.Health.Register("redis", cfg.WalletDriver == StorageDriverRedis, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.WithField("addr", cfg.RedisAddr).Info("redis connected")
	return client, nil
}

// initAccounts выбирает хранилище кошельков и записывает стартовые балансы тем, у кого кошелька ещё нет.
func initAccounts(ctx context.Context, cfg Config, accounts domain.AccountStore, redisClient *goredis.Client) (domain.AccountStore, error) {
	switch cfg.WalletDriver {
	case StorageDriverMemory:
		return memory.NewAccountStore(cfg.SeedBalances), nil
	case StorageDriverRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis addr is required for wallet driver %q", cfg.WalletDriver)
		}
		accounts = redisstore.NewAccountStore(redisClient)
	case StorageDriverPostgres:
		if accounts == nil {
			return nil, fmt.Errorf("wallet driver %q requires postgres storage", cfg.WalletDriver)
		}
	default:
		return nil, fmt.Errorf("unsupported wallet driver %q", cfg.WalletDriver)
	}

	for userID, amount := range cfg.SeedBalances {
		if swapper, ok := accounts.(domain.BalanceSwapper); ok {
			if _, err := swapper.CreateBalance(ctx, userID, amount); err != nil {
				return nil, fmt.Errorf("seed wallet %s: %w", userID, err)
			}
			continue
		}
		_, err := accounts.ReadBalance(ctx, userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return nil, fmt.Errorf("seed wallet %s: %w", userID, err)
		}
		if err := accounts.WriteBalance(ctx, userID, amount); err != nil {
			return nil, fmt.Errorf("seed wallet %s: %w", userID, err)
		}
	}
	return accounts, nil
}

func initCartStores(ctx context.Context, cfg Config, deps *Dependencies, logger *log.Entry) (cart.StoreFactory, error) {
	switch cfg.CartDriver {
	case StorageDriverMemory:
		return func(string) (domain.CartStore, error) {
			return memory.NewCartStore(), nil
		}, nil
	case StorageDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		deps.onClose(db.Close)
		if err := sqlite.Migrate(ctx, db); err != nil {
			return nil, err
		}
		deps.Health.Register("cart-sqlite", true, db.PingContext)
		logger.WithField("path", cfg.SQLitePath).Info("sqlite cart storage initialized")
		return sqliteCartFactory(db, logger), nil
	default:
		return nil, fmt.Errorf("unsupported cart driver %q", cfg.CartDriver)
	}
}

func sqliteCartFactory(db *sql.DB, logger *log.Entry) cart.StoreFactory {
	return func(userID string) (domain.CartStore, error) {
		return sqlite.NewCartStore(db, userID, logger.WithFields(log.Fields{
			"component": "cart-store",
			"user_id":   userID,
		})), nil
	}
}
