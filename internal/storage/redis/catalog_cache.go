package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

const (
	defaultMenuTTL    = 10 * time.Minute
	defaultMenuJitter = 2 * time.Minute
)

// CatalogCache: read-through кэш категорий меню перед удалённым каталогом.
// Кэшируется категория целиком; GetMenuItem ищет позицию в закэшированном списке.
// Одновременные промахи по одной категории схлопываются через singleflight.
type CatalogCache struct {
	client goredis.UniversalClient
	source domain.CatalogReader
	ttl    time.Duration
	jitter time.Duration
	group  singleflight.Group
	logger *log.Entry
}

// CatalogOption настраивает CatalogCache.
type CatalogOption func(*CatalogCache)

// WithTTL задаёт базовый TTL и максимальный случайный разброс.
func WithTTL(ttl, jitter time.Duration) CatalogOption {
	return func(c *CatalogCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// WithLogger задаёт логгер кэша.
func WithLogger(logger *log.Entry) CatalogOption {
	return func(c *CatalogCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCatalogCache оборачивает source кэшем в Redis.
func NewCatalogCache(client goredis.UniversalClient, source domain.CatalogReader, opts ...CatalogOption) *CatalogCache {
	c := &CatalogCache{
		client: client,
		source: source,
		ttl:    defaultMenuTTL,
		jitter: defaultMenuJitter,
		logger: log.WithField("component", "catalog-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetMenuItem возвращает позицию из закэшированной категории.
func (c *CatalogCache) GetMenuItem(ctx context.Context, category, id string) (domain.MenuItem, error) {
	items, err := c.ListByCategory(ctx, category)
	if err != nil {
		return domain.MenuItem{}, err
	}
	for _, item := range items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.MenuItem{}, domain.ErrMenuItemNotFound
}

// ListByCategory читает категорию из Redis, при промахе идёт в источник.
// Ошибки Redis не ломают чтение: источник остаётся авторитетным.
func (c *CatalogCache) ListByCategory(ctx context.Context, category string) ([]domain.MenuItem, error) {
	key := menuKey(category)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var items []domain.MenuItem
		if jsonErr := json.Unmarshal(data, &items); jsonErr == nil {
			return items, nil
		}
		c.logger.WithField("category", category).Warn("dropping corrupted menu cache entry")
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, goredis.Nil) {
		c.logger.WithError(err).WithField("category", category).Warn("menu cache read failed")
	}

	v, err, _ := c.group.Do(category, func() (any, error) {
		items, err := c.source.ListByCategory(ctx, category)
		if err != nil {
			return nil, err
		}
		c.store(context.WithoutCancel(ctx), key, items)
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.MenuItem), nil
}

// Invalidate удаляет категорию из кэша.
func (c *CatalogCache) Invalidate(ctx context.Context, category string) error {
	if err := c.client.Del(ctx, menuKey(category)).Err(); err != nil {
		return fmt.Errorf("invalidate menu %s: %w", category, err)
	}
	return nil
}

func (c *CatalogCache) store(ctx context.Context, key string, items []domain.MenuItem) {
	data, err := json.Marshal(items)
	if err != nil {
		c.logger.WithError(err).Warn("encode menu for cache")
		return
	}
	ttl := c.ttl
	if c.jitter > 0 {
		ttl += rand.N(c.jitter)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("menu cache write failed")
	}
}

func menuKey(category string) string {
	return keyPrefix + "menu:" + category
}

var _ domain.CatalogReader = (*CatalogCache)(nil)
