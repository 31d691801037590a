package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/snapshot"
)

// CartStore: in-memory хранилище корзины для тестов и CAFE_CART_DRIVER=memory.
// Индекс byConfig повторяет составной индекс SQLite-хранилища.
type CartStore struct {
	mu       sync.RWMutex
	nextID   int64
	lines    map[int64]domain.CartLine
	byConfig map[domain.CartConfiguration]int64
	feed     *snapshot.Feed[[]domain.CartLine]
	now      func() time.Time
}

// NewCartStore создаёт пустое хранилище корзины.
func NewCartStore() *CartStore {
	return &CartStore{
		lines:    make(map[int64]domain.CartLine),
		byConfig: make(map[domain.CartConfiguration]int64),
		feed:     snapshot.NewFeed[[]domain.CartLine](),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Upsert вставляет новую позицию или заменяет существующую с тем же ID.
func (s *CartStore) Upsert(ctx context.Context, line domain.CartLine) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.NewStorageError("upsert", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if line.ID == 0 {
		s.nextID++
		line.ID = s.nextID
	} else if line.ID > s.nextID {
		s.nextID = line.ID
	}
	if prev, ok := s.lines[line.ID]; ok {
		if line.CreatedAt.IsZero() {
			line.CreatedAt = prev.CreatedAt
		}
		if s.byConfig[prev.Configuration()] == prev.ID {
			delete(s.byConfig, prev.Configuration())
		}
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = s.now()
	}

	s.lines[line.ID] = line
	if _, taken := s.byConfig[line.Configuration()]; !taken {
		s.byConfig[line.Configuration()] = line.ID
	}
	s.publishLocked()
	return line.ID, nil
}

// FindByConfiguration ищет позицию по ключу дедупликации.
func (s *CartStore) FindByConfiguration(ctx context.Context, cfg domain.CartConfiguration) (domain.CartLine, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartLine{}, false, domain.NewStorageError("find", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byConfig[cfg]
	if !ok {
		return domain.CartLine{}, false, nil
	}
	line, ok := s.lines[id]
	return line, ok, nil
}

// Get возвращает позицию по ID.
func (s *CartStore) Get(ctx context.Context, id int64) (domain.CartLine, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.CartLine{}, false, domain.NewStorageError("get", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[id]
	return line, ok, nil
}

// Remove удаляет позицию. Отсутствующий ID не считается ошибкой.
func (s *CartStore) Remove(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("remove", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(id)
	s.publishLocked()
	return nil
}

// SetQuantity меняет количество; qty <= 0 удаляет позицию.
func (s *CartStore) SetQuantity(ctx context.Context, id int64, qty int32) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("set_quantity", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if qty <= 0 {
		s.removeLocked(id)
		s.publishLocked()
		return nil
	}

	line, ok := s.lines[id]
	if !ok {
		return domain.ErrCartLineNotFound
	}
	line.Quantity = qty
	s.lines[id] = line
	s.publishLocked()
	return nil
}

// Clear удаляет все позиции одной операцией.
func (s *CartStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("clear", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines = make(map[int64]domain.CartLine)
	s.byConfig = make(map[domain.CartConfiguration]int64)
	s.publishLocked()
	return nil
}

// List возвращает текущий снимок корзины.
func (s *CartStore) List(ctx context.Context) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("list", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked(), nil
}

// Observe подписывает на снимки корзины. Первым приходит текущее состояние.
func (s *CartStore) Observe(ctx context.Context) domain.CartSubscription {
	// Подписка под блокировкой: между снятием текущего снимка и регистрацией
	// подписчика не должно пройти ни одной записи.
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.feed.Subscribe(ctx, s.snapshotLocked())
}

// Close завершает все подписки хранилища.
func (s *CartStore) Close() error {
	s.feed.Close()
	return nil
}

func (s *CartStore) removeLocked(id int64) {
	line, ok := s.lines[id]
	if !ok {
		return
	}
	delete(s.lines, id)

	cfg := line.Configuration()
	if s.byConfig[cfg] != id {
		return
	}
	delete(s.byConfig, cfg)
	// если в хранилище осталась другая позиция с той же конфигурацией, индекс указывает на неё
	for otherID, other := range s.lines {
		if other.Configuration() == cfg {
			s.byConfig[cfg] = otherID
			break
		}
	}
}

func (s *CartStore) snapshotLocked() []domain.CartLine {
	result := make([]domain.CartLine, 0, len(s.lines))
	for _, line := range s.lines {
		result = append(result, line)
	}
	domain.SortCartLines(result)
	return result
}

func (s *CartStore) publishLocked() {
	s.feed.Publish(s.snapshotLocked())
}

var _ domain.CartStore = (*CartStore)(nil)
