package memory

import (
	"fmt"
	"slices"
	"sync"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// OrderRepository хранит заказы в памяти с индексом по клиенту.
type OrderRepository struct {
	mu         sync.RWMutex
	orders     map[string]domain.Order
	byCustomer map[string][]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:     make(map[string]domain.Order),
		byCustomer: make(map[string][]string),
	}
}

// Create сохраняет новый заказ; занятый ID возвращает ErrOrderVersionConflict.
func (r *OrderRepository) Create(order domain.Order) error {
	if order.ID == "" {
		return domain.NewValidationError("order_id", "is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("create order %s: %w", order.ID, domain.ErrOrderVersionConflict)
	}
	r.orders[order.ID] = copyOrder(order)
	r.byCustomer[order.CustomerID] = append(r.byCustomer[order.CustomerID], order.ID)
	return nil
}

func (r *OrderRepository) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

// ListByCustomer возвращает заказы клиента от новых к старым.
func (r *OrderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	ids := r.byCustomer[customerID]
	result := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		result = append(result, copyOrder(r.orders[id]))
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save записывает заказ, если order.Version совпадает с сохранённой, и увеличивает версию.
func (r *OrderRepository) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case !ok:
		return domain.ErrOrderNotFound
	case stored.Version != order.Version:
		return fmt.Errorf("save order %s at version %d (stored %d): %w",
			order.ID, order.Version, stored.Version, domain.ErrOrderVersionConflict)
	}
	order.CustomerID = stored.CustomerID
	order.Version++
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func copyOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
