// Package ledger: единственная точка изменения балансов кошельков.
package ledger

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// RetryConfig задаёт повторы compare-and-set при гонке с другим процессом.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// Ledger сериализует операции над одним кошельком внутри процесса, а если хранилище
// поддерживает domain.BalanceSwapper, пишет через compare-and-set, чтобы два процесса
// не прошли проверку достаточности по устаревшему балансу.
type Ledger struct {
	store   domain.AccountStore
	swapper domain.BalanceSwapper
	locks   *keyedMutex
	retry   RetryConfig
	logger  *log.Entry
}

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithRetryConfig задаёт параметры повторов compare-and-set.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(l *Ledger) {
		l.retry = cfg
	}
}

// New создаёт Ledger поверх AccountStore.
func New(store domain.AccountStore, options ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  newKeyedMutex(),
		retry:  DefaultRetryConfig(),
		logger: log.WithField("component", "ledger"),
	}
	if swapper, ok := store.(domain.BalanceSwapper); ok {
		l.swapper = swapper
	}
	for _, option := range options {
		option(l)
	}
	if l.retry.MaxAttempts <= 0 {
		l.retry.MaxAttempts = 1
	}
	if l.retry.BackoffFactor < 1 {
		l.retry.BackoffFactor = 1
	}
	return l
}

// GetBalance читает текущий баланс.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := l.store.ReadBalance(ctx, userID)
	if err != nil {
		return 0, &domain.AccountError{UserID: userID, Err: err}
	}
	return balance, nil
}

// Debit списывает amountMinor. Достаточность проверяется по свежепрочитанному балансу.
func (l *Ledger) Debit(ctx context.Context, userID string, amountMinor int64) error {
	if err := validateOperation(userID, amountMinor); err != nil {
		return err
	}
	if amountMinor == 0 {
		return nil
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	return l.withRetry(ctx, userID, "debit", func() (bool, error) {
		balance, err := l.GetBalance(ctx, userID)
		if err != nil {
			return false, err
		}
		if amountMinor > balance {
			return false, &domain.InsufficientFundsError{UserID: userID, BalanceMinor: balance, RequestedMinor: amountMinor}
		}
		return l.write(ctx, userID, balance, balance-amountMinor)
	})
}

// Credit зачисляет amountMinor. Отсутствующий кошелёк заводится с нулевым балансом.
func (l *Ledger) Credit(ctx context.Context, userID string, amountMinor int64) error {
	if err := validateOperation(userID, amountMinor); err != nil {
		return err
	}

	unlock := l.locks.Lock(userID)
	defer unlock()

	return l.withRetry(ctx, userID, "credit", func() (bool, error) {
		balance, err := l.store.ReadBalance(ctx, userID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return l.open(ctx, userID, amountMinor)
		}
		if err != nil {
			return false, &domain.AccountError{UserID: userID, Err: err}
		}
		if balance > math.MaxInt64-amountMinor {
			return false, domain.NewValidationError("amount_minor", "balance overflow")
		}
		return l.write(ctx, userID, balance, balance+amountMinor)
	})
}

// write возвращает false, если compare-and-set проиграл гонку.
func (l *Ledger) write(ctx context.Context, userID string, expected, next int64) (bool, error) {
	if l.swapper == nil {
		if err := l.store.WriteBalance(ctx, userID, next); err != nil {
			return false, &domain.AccountError{UserID: userID, Err: err}
		}
		return true, nil
	}

	swapped, err := l.swapper.CompareAndSwapBalance(ctx, userID, expected, next)
	if err != nil {
		return false, &domain.AccountError{UserID: userID, Err: err}
	}
	return swapped, nil
}

// open заводит кошелёк с первым зачислением. false означает, что кошелёк успел
// завести другой процесс и зачисление нужно повторить через compare-and-set.
func (l *Ledger) open(ctx context.Context, userID string, amountMinor int64) (bool, error) {
	if l.swapper == nil {
		if err := l.store.WriteBalance(ctx, userID, amountMinor); err != nil {
			return false, &domain.AccountError{UserID: userID, Err: err}
		}
		return true, nil
	}

	created, err := l.swapper.CreateBalance(ctx, userID, amountMinor)
	if err != nil {
		return false, &domain.AccountError{UserID: userID, Err: err}
	}
	return created, nil
}

func (l *Ledger) withRetry(ctx context.Context, userID, operation string, attempt func() (bool, error)) error {
	delay := l.retry.InitialDelay
	for n := 1; n <= l.retry.MaxAttempts; n++ {
		done, err := attempt()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		l.logger.WithFields(log.Fields{
			"user_id":   userID,
			"operation": operation,
			"attempt":   n,
		}).Warn("balance changed concurrently, retrying")

		if n == l.retry.MaxAttempts || delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return &domain.AccountError{UserID: userID, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * l.retry.BackoffFactor)
		if l.retry.MaxDelay > 0 && delay > l.retry.MaxDelay {
			delay = l.retry.MaxDelay
		}
	}

	l.logger.WithFields(log.Fields{
		"user_id":      userID,
		"operation":    operation,
		"max_attempts": l.retry.MaxAttempts,
	}).Error("balance update failed after all retry attempts")
	return &domain.AccountError{UserID: userID, Err: domain.ErrBalanceConflict}
}

func validateOperation(userID string, amountMinor int64) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if amountMinor < 0 {
		return domain.NewValidationError("amount_minor", "must be non-negative")
	}
	return nil
}
