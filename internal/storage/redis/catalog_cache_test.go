package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
)

type countingCatalog struct {
	domain.CatalogReader
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (c *countingCatalog) ListByCategory(ctx context.Context, category string) ([]domain.MenuItem, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.CatalogReader.ListByCategory(ctx, category)
}

func TestCatalogCache_ReadThrough(t *testing.T) {
	client, mr := setupRedis(t)
	source := &countingCatalog{CatalogReader: memory.NewCatalog()}
	cache := NewCatalogCache(client, source, WithTTL(time.Minute, 0))
	ctx := context.Background()

	first, err := cache.ListByCategory(ctx, domain.CategoryCoffee)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := cache.ListByCategory(ctx, domain.CategoryCoffee)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), source.calls.Load())

	assert.True(t, mr.Exists("cafe:menu:coffee"))
	assert.Equal(t, time.Minute, mr.TTL("cafe:menu:coffee"))

	item, err := cache.GetMenuItem(ctx, domain.CategoryCoffee, "latte")
	require.NoError(t, err)
	assert.Equal(t, int64(450), item.PriceMinor)
	assert.Equal(t, []string{"Hot", "Iced"}, item.Temperatures)

	_, err = cache.GetMenuItem(ctx, domain.CategoryCoffee, "mocha")
	assert.ErrorIs(t, err, domain.ErrMenuItemNotFound)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestCatalogCache_TTLWithinJitter(t *testing.T) {
	client, mr := setupRedis(t)
	cache := NewCatalogCache(client, memory.NewCatalog(), WithTTL(5*time.Minute, time.Minute))

	_, err := cache.ListByCategory(context.Background(), domain.CategoryTea)
	require.NoError(t, err)

	ttl := mr.TTL("cafe:menu:tea")
	assert.GreaterOrEqual(t, ttl, 5*time.Minute)
	assert.Less(t, ttl, 6*time.Minute)
}

func TestCatalogCache_CollapsesConcurrentMisses(t *testing.T) {
	client, _ := setupRedis(t)
	source := &countingCatalog{CatalogReader: memory.NewCatalog(), delay: 50 * time.Millisecond}
	cache := NewCatalogCache(client, source)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.ListByCategory(context.Background(), domain.CategoryPastry)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestCatalogCache_FallsBackWhenRedisIsDown(t *testing.T) {
	client, mr := setupRedis(t)
	source := &countingCatalog{CatalogReader: memory.NewCatalog()}
	cache := NewCatalogCache(client, source)
	mr.Close()

	items, err := cache.ListByCategory(context.Background(), domain.CategoryDrink)
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}

func TestCatalogCache_CorruptedEntryIsReloaded(t *testing.T) {
	client, mr := setupRedis(t)
	source := &countingCatalog{CatalogReader: memory.NewCatalog()}
	cache := NewCatalogCache(client, source)
	require.NoError(t, mr.Set("cafe:menu:coffee", "{not json"))

	items, err := cache.ListByCategory(context.Background(), domain.CategoryCoffee)
	require.NoError(t, err)
	assert.NotEmpty(t, items)
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestCatalogCache_SourceErrorAndInvalidate(t *testing.T) {
	client, mr := setupRedis(t)
	source := &countingCatalog{CatalogReader: memory.NewCatalog(), err: errors.New("catalog offline")}
	cache := NewCatalogCache(client, source)
	ctx := context.Background()

	_, err := cache.ListByCategory(ctx, domain.CategoryCoffee)
	assert.ErrorContains(t, err, "catalog offline")
	assert.False(t, mr.Exists("cafe:menu:coffee"))

	source.err = nil
	_, err = cache.ListByCategory(ctx, domain.CategoryCoffee)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, domain.CategoryCoffee))
	assert.False(t, mr.Exists("cafe:menu:coffee"))
}
