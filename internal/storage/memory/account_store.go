package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// AccountStore хранит балансы кошельков в памяти.
type AccountStore struct {
	mu       sync.RWMutex
	balances map[string]int64
}

// NewAccountStore создаёт хранилище с начальными балансами (может быть nil).
func NewAccountStore(initial map[string]int64) *AccountStore {
	balances := make(map[string]int64, len(initial))
	for userID, amount := range initial {
		balances[userID] = amount
	}
	return &AccountStore{balances: balances}
}

// ReadBalance возвращает баланс или ErrAccountNotFound.
func (s *AccountStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[userID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	return balance, nil
}

// WriteBalance записывает баланс, заводя кошелёк при необходимости.
func (s *AccountStore) WriteBalance(ctx context.Context, userID string, amountMinor int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[userID] = amountMinor
	return nil
}

// CompareAndSwapBalance записывает next, только если текущий баланс равен expected.
func (s *AccountStore) CompareAndSwapBalance(ctx context.Context, userID string, expected, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.balances[userID]
	if !ok {
		return false, domain.ErrAccountNotFound
	}
	if current != expected {
		return false, nil
	}
	s.balances[userID] = next
	return true, nil
}

// CreateBalance заводит кошелёк с amountMinor, если его нет.
func (s *AccountStore) CreateBalance(ctx context.Context, userID string, amountMinor int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[userID]; ok {
		return false, nil
	}
	s.balances[userID] = amountMinor
	return true, nil
}

var (
	_ domain.AccountStore   = (*AccountStore)(nil)
	_ domain.BalanceSwapper = (*AccountStore)(nil)
)
