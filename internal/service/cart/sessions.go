package cart

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
)

// StoreFactory открывает хранилище корзины пользователя.
type StoreFactory func(userID string) (domain.CartStore, error)

// Sessions держит по одному Service на пользователя. Корзина создаётся при первом обращении
// и живёт до Close.
type Sessions struct {
	factory StoreFactory
	catalog domain.CatalogReader
	logger  *log.Entry
	metrics *metrics.CartMetrics

	mu       sync.Mutex
	sessions map[string]*Service
	stores   map[string]domain.CartStore
}

// NewSessions создаёт реестр сессий корзин.
func NewSessions(factory StoreFactory, catalog domain.CatalogReader, logger *log.Entry, m *metrics.CartMetrics) *Sessions {
	if logger == nil {
		logger = log.WithField("component", "cart-sessions")
	}
	return &Sessions{
		factory:  factory,
		catalog:  catalog,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Service),
		stores:   make(map[string]domain.CartStore),
	}
}

// Get возвращает корзину пользователя, создавая её при первом обращении.
func (s *Sessions) Get(userID string) (*Service, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if svc, ok := s.sessions[userID]; ok {
		return svc, nil
	}

	store, err := s.factory(userID)
	if err != nil {
		return nil, fmt.Errorf("open cart store for %s: %w", userID, err)
	}
	svc := NewService(store,
		WithCatalog(s.catalog),
		WithLogger(s.logger.WithField("user_id", userID)),
		WithMetrics(s.metrics),
	)
	s.sessions[userID] = svc
	s.stores[userID] = store
	if s.metrics != nil {
		s.metrics.SetSessions(len(s.sessions))
	}
	s.logger.WithField("user_id", userID).Debug("cart session opened")
	return svc, nil
}

// Len возвращает количество открытых сессий.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close закрывает хранилища всех сессий, реализующие io.Closer.
func (s *Sessions) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for userID, store := range s.stores {
		if closer, ok := store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close cart store %s: %w", userID, err))
			}
		}
	}
	s.sessions = make(map[string]*Service)
	s.stores = make(map[string]domain.CartStore)
	if s.metrics != nil {
		s.metrics.SetSessions(0)
	}
	return errors.Join(errs...)
}
