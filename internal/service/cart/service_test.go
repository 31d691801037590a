package cart

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
)

var latte = domain.MenuItem{
	ID:           "latte",
	Name:         "Caffe Latte",
	Category:     domain.CategoryCoffee,
	PriceMinor:   450,
	Available:    true,
	Temperatures: []string{"Hot", "Iced"},
	SugarLevels:  []string{"None", "Normal"},
}

// failingStore оборачивает memory.CartStore и возвращает заданную ошибку на записи.
type failingStore struct {
	*memory.CartStore
	mu      sync.Mutex
	err     error
	upserts int
}

func (s *failingStore) Upsert(ctx context.Context, line domain.CartLine) (int64, error) {
	s.mu.Lock()
	s.upserts++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.CartStore.Upsert(ctx, line)
}

func (s *failingStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.CartStore.Clear(ctx)
}

func TestAddToCart_MergesSameConfiguration(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	first, err := svc.AddToCart(ctx, latte, "Hot", "Normal", 1)
	require.NoError(t, err)
	second, err := svc.AddToCart(ctx, latte, "Hot", "Normal", 2)
	require.NoError(t, err)
	require.Equal(t, first, second)

	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int32(3), lines[0].Quantity)

	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), totals.ItemCount)
	require.Equal(t, 3*latte.PriceMinor, totals.TotalMinor)
}

func TestAddToCart_DifferentOptionsCreateSeparateLines(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	hot, err := svc.AddToCart(ctx, latte, "Hot", "Normal", 1)
	require.NoError(t, err)
	iced, err := svc.AddToCart(ctx, latte, "Iced", "Normal", 1)
	require.NoError(t, err)
	plain, err := svc.AddToCart(ctx, latte, "", "", 1)
	require.NoError(t, err)

	require.NotEqual(t, hot, iced)
	require.NotEqual(t, iced, plain)

	cart, err := svc.Cart(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 3)
	require.Equal(t, "Hot, Normal", cart.Lines[0].OptionsLabel())
	require.Equal(t, "", cart.Lines[2].OptionsLabel())
}

func TestAddToCart_KeepsSnapshotCapturedAtFirstAdd(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	_, err := svc.AddToCart(ctx, latte, "Hot", "", 1)
	require.NoError(t, err)

	repriced := latte
	repriced.PriceMinor = 999
	_, err = svc.AddToCart(ctx, repriced, "Hot", "", 1)
	require.NoError(t, err)

	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	require.Equal(t, latte.PriceMinor, lines[0].UnitPriceMinor)
}

func TestAddToCart_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	_, err := svc.AddToCart(ctx, latte, "Hot", "", 0)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.AddToCart(ctx, domain.MenuItem{PriceMinor: 100}, "", "", 1)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.AddToCart(ctx, domain.MenuItem{ID: "broken", PriceMinor: -5}, "", "", 1)
	assert.True(t, domain.IsValidation(err))

	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestAddToCart_ConcurrentCallersProduceOneLine(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	const callers = 50
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.AddToCart(ctx, latte, "Hot", "Normal", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int32(callers), lines[0].Quantity)
}

func TestSetQuantity_NonPositiveRemovesLine(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	id, err := svc.AddToCart(ctx, latte, "Hot", "", 2)
	require.NoError(t, err)

	require.NoError(t, svc.SetQuantity(ctx, id, 5))
	totals, err := svc.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), totals.ItemCount)

	require.NoError(t, svc.SetQuantity(ctx, id, 0))
	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	require.Empty(t, lines)

	require.ErrorIs(t, svc.SetQuantity(ctx, id, 1), domain.ErrCartLineNotFound)
	require.NoError(t, svc.RemoveLine(ctx, id))
}

func TestRemoveOrdered_KeepsLinesChangedAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore())

	hot, err := svc.AddToCart(ctx, latte, "Hot", "None", 2)
	require.NoError(t, err)
	iced, err := svc.AddToCart(ctx, latte, "Iced", "None", 1)
	require.NoError(t, err)
	gone, err := svc.AddToCart(ctx, latte, "Iced", "Normal", 1)
	require.NoError(t, err)
	ordered, err := svc.Lines(ctx)
	require.NoError(t, err)

	_, err = svc.AddToCart(ctx, latte, "Hot", "None", 3)
	require.NoError(t, err)
	added, err := svc.AddToCart(ctx, latte, "Hot", "Normal", 1)
	require.NoError(t, err)
	require.NoError(t, svc.RemoveLine(ctx, gone))

	require.NoError(t, svc.RemoveOrdered(ctx, ordered))

	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	left := map[int64]int32{}
	for _, line := range lines {
		left[line.ID] = line.Quantity
	}
	assert.Equal(t, map[int64]int32{hot: 3, added: 1}, left)
	assert.NotContains(t, left, iced)
}

func TestRemoveOrdered_WholeCartIsCleared(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{CartStore: memory.NewCartStore()}
	svc := NewService(store)

	_, err := svc.AddToCart(ctx, latte, "Hot", "None", 2)
	require.NoError(t, err)
	ordered, err := svc.Lines(ctx)
	require.NoError(t, err)

	store.mu.Lock()
	store.err = domain.NewStorageError("clear", errors.New("disk full"))
	store.mu.Unlock()
	err = svc.RemoveOrdered(ctx, ordered)
	assert.True(t, domain.IsStorageError(err))

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	require.NoError(t, svc.RemoveOrdered(ctx, ordered))
	lines, err := svc.Lines(ctx)
	require.NoError(t, err)
	assert.Empty(t, lines)

	require.NoError(t, svc.RemoveOrdered(ctx, ordered), "lines already gone are skipped")
}

func TestStorageErrorsAreReturnedUnchanged(t *testing.T) {
	ctx := context.Background()
	storageErr := domain.NewStorageError("upsert", errors.New("disk full"))
	store := &failingStore{CartStore: memory.NewCartStore(), err: storageErr}
	svc := NewService(store)

	_, err := svc.AddToCart(ctx, latte, "Hot", "", 1)
	require.Equal(t, storageErr, err)
	require.Equal(t, 1, store.upserts, "service must not retry storage failures")

	require.Equal(t, storageErr, svc.ClearCart(ctx))
}

func TestAddMenuItem_UsesCatalog(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewCartStore(), WithCatalog(memory.NewCatalog()))

	id, err := svc.AddMenuItem(ctx, domain.CategoryCoffee, "latte", "Iced", "Less", 2)
	require.NoError(t, err)

	line, found, err := svc.store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Caffe Latte", line.Name)
	require.Equal(t, int64(900), line.LineTotalMinor())

	_, err = svc.AddMenuItem(ctx, domain.CategoryCoffee, "cappuccino", "Iced", "", 1)
	require.True(t, domain.IsValidation(err))

	_, err = svc.AddMenuItem(ctx, domain.CategoryCoffee, "unknown", "", "", 1)
	require.ErrorIs(t, err, domain.ErrMenuItemNotFound)

	unavailable := memory.NewCatalog(domain.MenuItem{ID: "seasonal", Category: domain.CategoryDrink, PriceMinor: 500})
	svc = NewService(memory.NewCartStore(), WithCatalog(unavailable))
	_, err = svc.AddMenuItem(ctx, domain.CategoryDrink, "seasonal", "", "", 1)
	require.True(t, domain.IsValidation(err))
}

func TestObserveDeliversSnapshotsForMutations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := NewService(memory.NewCartStore())

	sub := svc.Observe(ctx)
	defer sub.Close()
	require.Empty(t, <-sub.Updates())

	_, err := svc.AddToCart(ctx, latte, "Hot", "", 1)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, latte, "Hot", "", 1)
	require.NoError(t, err)

	require.Equal(t, int32(1), (<-sub.Updates())[0].Quantity)
	require.Equal(t, int32(2), (<-sub.Updates())[0].Quantity)
}

func TestMutationMetricsAreRecorded(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	svc := NewService(memory.NewCartStore(), WithMetrics(metrics.NewCartMetricsWithRegisterer(reg)))

	_, err := svc.AddToCart(ctx, latte, "", "", 1)
	require.NoError(t, err)
	_, err = svc.AddToCart(ctx, latte, "", "", 0)
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	results := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "cafe_cart_mutations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			results[labels["op"]+"/"+labels["result"]] = metric.GetCounter().GetValue()
		}
	}
	require.Equal(t, map[string]float64{"add/ok": 1, "add/error": 1}, results)
}
