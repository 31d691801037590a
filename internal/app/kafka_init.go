package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
	"github.com/vladislavdragonenkov/cafe/internal/service/orders"
	"github.com/vladislavdragonenkov/cafe/internal/service/outbox"
	"github.com/vladislavdragonenkov/cafe/internal/version"
)

const (
	statusConsumerRetries    = 3
	statusConsumerRetryDelay = 200 * time.Millisecond
)

// initKafkaProducer подключается к брокерам из CAFE_KAFKA_BROKERS.
// Без брокеров Kafka отключена: возвращается nil, nil. Ошибку подключения вызывающий
// код только логирует, и сервис работает с событиями в одном timeline.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, version.ClientID())
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Warn("kafka unavailable, checkout events stay in the timeline")
		return nil, err
	}
	logger.WithFields(log.Fields{
		"brokers":   brokers,
		"client_id": version.ClientID(),
	}).Info("kafka producer ready")
	return producer, nil
}

func closeKafka(producer *kafka.Producer, logger *log.Entry) error {
	if producer == nil {
		return nil
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("kafka producer close failed")
		return err
	}
	logger.Debug("kafka producer closed")
	return nil
}

// wireKafkaWorkers собирает relay outbox -> cafe.checkout.events (с DLQ cafe.dlq)
// и consumer статусов кухни из cafe.order.status. Вызывается только при живом producer.
func wireKafkaWorkers(cfg Config, deps *Dependencies, registerer prometheus.Registerer, logger *log.Entry) {
	producer := deps.Producer
	deps.Relay = outbox.NewRelay(deps.Outbox, kafka.NewOutboxPublisher(producer, kafka.TopicCheckoutEvents),
		outbox.Config{
			PollInterval:   cfg.OutboxPollInterval,
			BatchSize:      cfg.OutboxBatchSize,
			MaxAttempts:    cfg.OutboxMaxAttempts,
			RetryBaseDelay: cfg.OutboxRetryDelay,
		},
		outbox.WithDeadLetters(kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue)),
		outbox.WithMetrics(metrics.NewOutboxMetrics(registerer)),
		outbox.WithLogger(logger.WithField("component", "outbox-relay")),
	)

	repo := deps.Outbox
	deps.Health.Register("outbox", false, func(context.Context) error {
		_, err := repo.Stats()
		return err
	})

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		GroupID:    cfg.KafkaConsumerGroup,
		Topics:     []string{kafka.TopicOrderStatus},
		MaxRetries: statusConsumerRetries,
		RetryDelay: statusConsumerRetryDelay,
	}, kafka.OrderStatusHandler(applyOrderStatus(deps.Orders)), producer)
	if err != nil {
		logger.WithError(err).Warn("kafka consumer not started, kitchen status updates disabled")
		return
	}
	deps.Consumer = consumer
}

// applyOrderStatus применяет статус кухни к заказу. Ошибки, которые повтор не исправит,
// помечаются kafka.Permanent и сразу уходят в DLQ.
func applyOrderStatus(svc *orders.Service) func(ctx context.Context, msg kafka.OrderStatusMessage) error {
	return func(ctx context.Context, msg kafka.OrderStatusMessage) error {
		err := svc.ApplyStatus(ctx, orders.StatusUpdate{
			OrderID:    msg.OrderID,
			Status:     domain.OrderStatus(msg.Status),
			Reason:     msg.Reason,
			OccurredAt: msg.OccurredAt,
		})
		if domain.IsValidation(err) ||
			errors.Is(err, domain.ErrOrderNotFound) ||
			errors.Is(err, domain.ErrOrderNotCancelable) {
			return kafka.Permanent(err)
		}
		return err
	}
}
