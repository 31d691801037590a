package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// BreakerConfig описывает параметры circuit breaker внешнего хранилища заказов.
type BreakerConfig struct {
	// ConsecutiveFailures: число подряд неудачных записей, после которого breaker размыкается.
	ConsecutiveFailures uint32
	// MaxRequests: число пробных запросов в полуоткрытом состоянии.
	MaxRequests uint32
	// Interval: период сброса счётчиков в замкнутом состоянии (0: не сбрасывать).
	Interval time.Duration
	// Timeout: сколько breaker остаётся разомкнутым.
	Timeout time.Duration
}

// DefaultBreakerConfig возвращает настройки по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
	}
}

// BreakerSink защищает OrderSink circuit breaker'ом: при разомкнутом breaker запись
// заказа сразу завершается ошибкой, не дожидаясь таймаутов хранилища.
type BreakerSink struct {
	next    domain.OrderSink
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerSink оборачивает sink.
func NewBreakerSink(next domain.OrderSink, cfg BreakerConfig, logger *log.Entry) *BreakerSink {
	if logger == nil {
		logger = log.WithField("component", "order-sink-breaker")
	}
	defaults := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = defaults.MaxRequests
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	settings := gobreaker.Settings{
		Name:        "order-sink",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
		// Отмена запроса клиентом и бизнес-отказы не говорят о недоступности хранилища.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				domain.IsValidation(err) ||
				errors.Is(err, domain.ErrOrderNotFound) ||
				errors.Is(err, domain.ErrOrderNotCancelable)
		},
	}

	return &BreakerSink{next: next, breaker: gobreaker.NewCircuitBreaker[string](settings)}
}

// SubmitOrder записывает заказ через breaker.
func (s *BreakerSink) SubmitOrder(ctx context.Context, draft domain.OrderDraft) (string, error) {
	orderID, err := s.breaker.Execute(func() (string, error) {
		return s.next.SubmitOrder(ctx, draft)
	})
	if err != nil {
		return "", s.wrap(err)
	}
	return orderID, nil
}

// CancelOrder отменяет заказ через breaker.
func (s *BreakerSink) CancelOrder(ctx context.Context, orderID string) error {
	_, err := s.breaker.Execute(func() (string, error) {
		return "", s.next.CancelOrder(ctx, orderID)
	})
	if err != nil {
		return s.wrap(err)
	}
	return nil
}

// State возвращает текущее состояние breaker: closed, half-open или open.
func (s *BreakerSink) State() string {
	return s.breaker.State().String()
}

func (s *BreakerSink) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("order store unavailable: %w", err)
	}
	return err
}
