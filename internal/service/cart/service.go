// Package cart реализует согласованную корзину: дедупликацию позиций, сериализацию
// мутаций и пересчёт итогов по снимку хранилища.
package cart

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
)

// Service: корзина одного пользователя поверх CartStore.
// Ошибки хранилища возвращаются без обёртки и без повторов.
// Все мутации выполняются под одним mutex, чтобы проверка дедупликации и запись были атомарны.
// Чтения идут напрямую в хранилище и не ждут мутаций.
type Service struct {
	store   domain.CartStore
	catalog domain.CatalogReader
	logger  *log.Entry
	metrics *metrics.CartMetrics

	mu sync.Mutex
}

// Option настраивает Service.
type Option func(*Service)

// WithCatalog задаёт каталог для AddMenuItem.
func WithCatalog(catalog domain.CatalogReader) Option {
	return func(s *Service) {
		s.catalog = catalog
	}
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics включает метрики мутаций.
func WithMetrics(m *metrics.CartMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService создаёт корзину поверх store.
func NewService(store domain.CartStore, options ...Option) *Service {
	s := &Service{
		store:  store,
		logger: log.WithField("component", "cart"),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// AddToCart добавляет qty единиц позиции меню с выбранными опциями.
// Если такая конфигурация уже в корзине, увеличивает её количество и возвращает её ID.
// Снимок полей позиции меню берётся из menuItem только при создании новой позиции.
func (s *Service) AddToCart(ctx context.Context, menuItem domain.MenuItem, temperature, sugar string, qty int32) (id int64, err error) {
	defer func() { s.record("add", err) }()

	if err := validateAdd(menuItem, qty); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := domain.CartConfiguration{MenuItemID: menuItem.ID, Temperature: temperature, Sugar: sugar}
	existing, found, err := s.store.FindByConfiguration(ctx, cfg)
	if err != nil {
		return 0, err
	}

	if found {
		if int64(existing.Quantity)+int64(qty) > math.MaxInt32 {
			return 0, domain.NewValidationError("quantity", "exceeds maximum per line")
		}
		existing.Quantity += qty
		if _, err := s.store.Upsert(ctx, existing); err != nil {
			return 0, err
		}
		s.logger.WithFields(log.Fields{
			"line_id":  existing.ID,
			"quantity": existing.Quantity,
		}).Debug("merged into existing cart line")
		return existing.ID, nil
	}

	line := domain.CartLine{
		MenuItemID:     menuItem.ID,
		Name:           menuItem.Name,
		UnitPriceMinor: menuItem.PriceMinor,
		Category:       menuItem.Category,
		ImageURL:       menuItem.ImageURL,
		Temperature:    temperature,
		Sugar:          sugar,
		Quantity:       qty,
	}
	id, err = s.store.Upsert(ctx, line)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(log.Fields{
		"line_id":      id,
		"menu_item_id": menuItem.ID,
	}).Debug("created cart line")
	return id, nil
}

// AddMenuItem читает позицию из каталога, проверяет опции и вызывает AddToCart.
func (s *Service) AddMenuItem(ctx context.Context, category, menuItemID, temperature, sugar string, qty int32) (int64, error) {
	if s.catalog == nil {
		return 0, fmt.Errorf("cart: catalog is not configured")
	}
	item, err := s.catalog.GetMenuItem(ctx, category, menuItemID)
	if err != nil {
		return 0, fmt.Errorf("get menu item %s/%s: %w", category, menuItemID, err)
	}
	if !item.Available {
		return 0, domain.NewValidationError("menu_item_id", "is not available")
	}
	if !item.SupportsTemperature(temperature) {
		return 0, domain.NewValidationError("temperature", fmt.Sprintf("%q is not offered for %s", temperature, item.ID))
	}
	if !item.SupportsSugar(sugar) {
		return 0, domain.NewValidationError("sugar", fmt.Sprintf("%q is not offered for %s", sugar, item.ID))
	}
	return s.AddToCart(ctx, item, temperature, sugar, qty)
}

// RemoveLine удаляет позицию по ID.
func (s *Service) RemoveLine(ctx context.Context, id int64) (err error) {
	defer func() { s.record("remove", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Remove(ctx, id)
}

// SetQuantity задаёт количество позиции; qty <= 0 удаляет её.
func (s *Service) SetQuantity(ctx context.Context, id int64, qty int32) (err error) {
	defer func() { s.record("set_quantity", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.SetQuantity(ctx, id, qty)
}

// ClearCart удаляет все позиции.
func (s *Service) ClearCart(ctx context.Context) (err error) {
	defer func() { s.record("clear", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Clear(ctx)
}

// RemoveOrdered убирает из корзины оформленные позиции ordered, сверяясь с текущим
// состоянием хранилища по ID. Если количество позиции выросло после оформления, в корзине
// остаётся разница; позиции, добавленные после оформления, не трогаются.
// Когда корзина совпадает с ordered целиком, она очищается одной операцией.
func (s *Service) RemoveOrdered(ctx context.Context, ordered []domain.CartLine) (err error) {
	defer func() { s.record("remove_ordered", err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	if sameLines(current, ordered) {
		return s.store.Clear(ctx)
	}

	left := make(map[int64]int32, len(current))
	for _, line := range current {
		left[line.ID] = line.Quantity
	}
	for _, line := range ordered {
		qty, found := left[line.ID]
		switch {
		case !found:
			continue
		case qty > line.Quantity:
			err = s.store.SetQuantity(ctx, line.ID, qty-line.Quantity)
		default:
			err = s.store.Remove(ctx, line.ID)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func sameLines(current, ordered []domain.CartLine) bool {
	if len(current) != len(ordered) {
		return false
	}
	want := make(map[int64]int32, len(ordered))
	for _, line := range ordered {
		want[line.ID] = line.Quantity
	}
	for _, line := range current {
		if qty, ok := want[line.ID]; !ok || qty != line.Quantity {
			return false
		}
	}
	return true
}

// Lines возвращает последний снимок позиций.
func (s *Service) Lines(ctx context.Context) ([]domain.CartLine, error) {
	return s.store.List(ctx)
}

// Cart возвращает упорядоченные позиции вместе с итогами.
func (s *Service) Cart(ctx context.Context) (domain.Cart, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	return domain.NewCart(lines), nil
}

// Totals пересчитывает итоги по последнему снимку.
func (s *Service) Totals(ctx context.Context) (domain.CartTotals, error) {
	lines, err := s.Lines(ctx)
	if err != nil {
		return domain.CartTotals{}, err
	}
	return domain.ComputeTotals(lines), nil
}

// Observe подписывает на живые снимки корзины.
func (s *Service) Observe(ctx context.Context) domain.CartSubscription {
	return s.store.Observe(ctx)
}

func (s *Service) record(op string, err error) {
	if s.metrics != nil {
		s.metrics.RecordMutation(op, err)
	}
}

func validateAdd(item domain.MenuItem, qty int32) error {
	if strings.TrimSpace(item.ID) == "" {
		return domain.NewValidationError("menu_item_id", "is required")
	}
	if item.PriceMinor < 0 {
		return domain.NewValidationError("unit_price_minor", "must be non-negative")
	}
	if qty <= 0 {
		return domain.NewValidationError("quantity", "must be greater than zero")
	}
	return nil
}
