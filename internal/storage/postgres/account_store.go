package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// AccountStore хранит балансы кошельков в таблице wallets.
// CompareAndSwapBalance реализован условным UPDATE, поэтому ledger может
// работать с несколькими инстансами сервиса поверх одной базы.
type AccountStore struct {
	db *sql.DB
}

// NewAccountStore создаёт хранилище кошельков.
func NewAccountStore(store *Store) *AccountStore {
	return &AccountStore{db: store.DB()}
}

func (s *AccountStore) ReadBalance(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance_minor FROM wallets WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read wallet %s: %w", userID, err)
	}
	return balance, nil
}

// WriteBalance заводит кошелёк или перезаписывает его баланс.
func (s *AccountStore) WriteBalance(ctx context.Context, userID string, amountMinor int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_minor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET balance_minor = EXCLUDED.balance_minor, updated_at = NOW()`,
		userID, amountMinor,
	); err != nil {
		return fmt.Errorf("write wallet %s: %w", userID, err)
	}
	return nil
}

func (s *AccountStore) CompareAndSwapBalance(ctx context.Context, userID string, expected, next int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET balance_minor = $1, updated_at = NOW()
		WHERE user_id = $2 AND balance_minor = $3`,
		next, userID, expected,
	)
	if err != nil {
		return false, fmt.Errorf("swap wallet %s: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Строка не обновилась: либо баланс изменился, либо кошелька нет.
	if _, err := s.ReadBalance(ctx, userID); err != nil {
		return false, err
	}
	return false, nil
}

// CreateBalance вставляет кошелёк через ON CONFLICT DO NOTHING и не трогает существующий.
func (s *AccountStore) CreateBalance(ctx context.Context, userID string, amountMinor int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, balance_minor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING`,
		userID, amountMinor,
	)
	if err != nil {
		return false, fmt.Errorf("create wallet %s: %w", userID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return inserted == 1, nil
}

var (
	_ domain.AccountStore   = (*AccountStore)(nil)
	_ domain.BalanceSwapper = (*AccountStore)(nil)
)
