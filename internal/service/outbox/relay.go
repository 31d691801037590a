// Package outbox доставляет события оформления из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
)

// Config задаёт параметры Relay.
type Config struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		BatchSize:      100,
		MaxAttempts:    3,
		RetryBaseDelay: 50 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	return c
}

// maxBatchesPerDrain ограничивает один Drain, если MarkSent не сдвигает backlog.
const maxBatchesPerDrain = 50

const maxRetryDelay = time.Minute

// DeadLetter: конверт события, которое не удалось опубликовать.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	FailedAt      time.Time       `json:"failed_at"`
}

// Relay периодически забирает pending-события и публикует их.
type Relay struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	metrics   *metrics.OutboxMetrics
	logger    *log.Entry
	cfg       Config
	now       func() time.Time
}

// Option настраивает Relay.
type Option func(*Relay)

// WithDeadLetters задаёт publisher для событий, исчерпавших попытки.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(r *Relay) { r.dlq = publisher }
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRelay создаёт relay.
func NewRelay(repo domain.OutboxRepository, publisher domain.OutboxPublisher, cfg Config, options ...Option) *Relay {
	r := &Relay{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithField("component", "outbox-relay"),
		cfg:       cfg.normalized(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(r)
	}
	return r
}

// Run публикует события до отмены ctx.
func (r *Relay) Run(ctx context.Context) {
	if r.repo == nil || r.publisher == nil {
		r.logger.Warn("outbox relay is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain публикует батчи, пока backlog не опустеет или не закончится ctx.
// Возвращает число событий, обработанных за вызов.
func (r *Relay) Drain(ctx context.Context) int {
	total := 0
	for batch := 0; batch < maxBatchesPerDrain && ctx.Err() == nil; batch++ {
		n, full := r.processBatch(ctx)
		total += n
		if !full {
			break
		}
	}
	r.refreshBacklog()
	return total
}

func (r *Relay) processBatch(ctx context.Context) (processed int, full bool) {
	events, err := r.repo.PullPending(r.cfg.BatchSize)
	if err != nil {
		r.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return 0, false
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return processed, false
		}
		r.deliver(ctx, event)
		processed++
	}
	return processed, len(events) == r.cfg.BatchSize
}

func (r *Relay) deliver(ctx context.Context, event domain.OutboxMessage) {
	logger := r.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})

	attempts, err := r.publishWithRetry(ctx, event)
	if err == nil {
		if markErr := r.repo.MarkSent(event.ID); markErr != nil {
			logger.WithError(markErr).Warn("failed to mark outbox message as sent")
		}
		return
	}
	if ctx.Err() != nil {
		// Сообщение остаётся pending и будет опубликовано после рестарта.
		return
	}

	logger.WithError(err).Error("outbox publish failed after retries")
	r.record("failed")
	if dlqErr := r.deadLetter(event, attempts, err); dlqErr != nil {
		logger.WithError(dlqErr).Warn("failed to publish to DLQ")
		r.record("dlq_failed")
	}
	if markErr := r.repo.MarkFailed(event.ID); markErr != nil {
		logger.WithError(markErr).Warn("failed to mark outbox message as failed")
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, event domain.OutboxMessage) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err := r.publisher.Publish(event)
		if err == nil {
			r.record("sent")
			return attempt, nil
		}
		lastErr = err
		r.record("retry_error")

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if delay := r.backoff(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return r.cfg.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", domain.ErrOutboxPublish, r.cfg.MaxAttempts, lastErr)
}

func (r *Relay) backoff(attempt int) time.Duration {
	delay := r.cfg.RetryBaseDelay
	for i := 1; i < attempt && delay > 0 && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay)
}

func (r *Relay) deadLetter(event domain.OutboxMessage, attempts int, publishErr error) error {
	if r.dlq == nil {
		return nil
	}

	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		quoted, _ := json.Marshal(string(event.Payload))
		payload = quoted
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		PublishError:  publishErr.Error(),
		Attempts:      attempts,
		FailedAt:      r.now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := event
	dead.Payload = body
	if err := r.dlq.Publish(dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (r *Relay) refreshBacklog() {
	if r.metrics == nil {
		return
	}
	stats, err := r.repo.Stats()
	if err != nil {
		r.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = r.now().Sub(stats.OldestPendingAt)
	}
	r.metrics.SetBacklog(stats.PendingCount, age)
}

func (r *Relay) record(result string) {
	if r.metrics != nil {
		r.metrics.RecordAttempt(result)
	}
}
