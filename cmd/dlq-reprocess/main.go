// Команда dlq-reprocess перечитывает топик cafe.dlq и возвращает сообщения в исходные топики:
// статусы заказов, которые не смог обработать consumer, и события оформления,
// которые outbox relay не смог опубликовать. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/cafe/internal/service/outbox"
	"github.com/vladislavdragonenkov/cafe/internal/version"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNotReplayable = errors.New("message is not a dead letter")

type config struct {
	brokers     []string
	sourceTopic string
	eventsTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// replayMessage: сообщение, готовое к повторной публикации.
type replayMessage struct {
	topic string
	key   string
	value []byte
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaSource struct {
	consumer sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error { return s.consumer.Close() }

type replayStats struct {
	scanned  int
	replayed int
	skipped  int
}

// replayer читает DLQ по партициям от самого старого смещения до снимка newest.
type replayer struct {
	cfg      config
	client   offsetClient
	source   partitionSource
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

var connect = func(cfg config) (*replayer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = version.ClientID()
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Idempotent = true
	saramaCfg.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	r := &replayer{cfg: cfg, client: client, source: saramaSource{consumer: consumer}}
	if cfg.execute {
		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			_ = consumer.Close()
			_ = client.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		r.producer = producer
	}
	return r, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := parseConfig(os.Args[1:], os.Getenv("CAFE_KAFKA_BROKERS"))
	if err != nil {
		log.WithError(err).Fatal("invalid dlq-reprocess config")
	}

	r, err := connect(cfg)
	if err != nil {
		log.WithError(err).WithField("brokers", cfg.brokers).Fatal("failed to connect to kafka")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	stats, err := r.run(ctx)
	stop()
	r.close()
	if err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  stats.scanned,
		"replayed": stats.replayed,
		"skipped":  stats.skipped,
	}).Info("dlq replay finished")
}

func parseConfig(args []string, envBrokers string) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers, comma-separated (fallback: CAFE_KAFKA_BROKERS)")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.eventsTopic, "events-topic", kafka.TopicCheckoutEvents, "topic for replayed outbox events")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max number of messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish messages; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = envBrokers
	}
	for _, broker := range strings.Split(brokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or CAFE_KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.eventsTopic) == "":
		return config{}, fmt.Errorf("events-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}
	return cfg, nil
}

func (r *replayer) close() {
	if r.producer != nil {
		_ = r.producer.Close()
	}
	if r.source != nil {
		_ = r.source.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
}

func (r *replayer) run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.cfg.execute && r.producer == nil {
		return total, fmt.Errorf("producer is required in execute mode")
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "dlq-reprocess")
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}

	partitions, err := r.client.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if total.scanned >= r.cfg.limit {
			break
		}
		stats, err := r.replayPartition(ctx, partition, r.cfg.limit-total.scanned)
		total.scanned += stats.scanned
		total.replayed += stats.replayed
		total.skipped += stats.skipped
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *replayer) replayPartition(ctx context.Context, partition int32, limit int) (replayStats, error) {
	var stats replayStats

	oldest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.client.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	pc, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, oldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	for stats.scanned < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumeErr := <-pc.Errors():
			if consumeErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumeErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			idle.Reset(r.cfg.idleTimeout)
			stats.scanned++

			replay, err := extractReplay(msg, r.cfg.eventsTopic, r.now())
			if err != nil {
				stats.skipped++
				r.logger.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else if err := r.publish(msg, replay); err != nil {
				return stats, err
			} else {
				stats.replayed++
			}

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *replayer) publish(source *sarama.ConsumerMessage, replay replayMessage) error {
	logger := r.logger.WithFields(log.Fields{
		"offset":       source.Offset,
		"target_topic": replay.topic,
		"key":          replay.key,
	})
	if !r.cfg.execute {
		logger.Info("dlq replay candidate")
		return nil
	}

	_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     replay.topic,
		Key:       sarama.StringEncoder(replay.key),
		Value:     sarama.ByteEncoder(replay.value),
		Timestamp: r.now(),
	})
	if err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	logger.Debug("dlq message replayed")
	return nil
}

// extractReplay восстанавливает исходное сообщение из записи DLQ.
// Поддерживаются два формата: kafka.DeadLetterMessage от consumer статусов и
// kafka.Envelope с outbox.DeadLetter внутри от outbox relay.
func extractReplay(msg *sarama.ConsumerMessage, eventsTopic string, now time.Time) (replayMessage, error) {
	var consumerDead kafka.DeadLetterMessage
	if err := json.Unmarshal(msg.Value, &consumerDead); err != nil {
		return replayMessage{}, fmt.Errorf("decode dlq message: %w", err)
	}
	if consumerDead.OriginalValue != "" {
		topic := strings.TrimSpace(consumerDead.OriginalTopic)
		if topic == "" {
			topic = kafka.TopicOrderStatus
		}
		return replayMessage{topic: topic, key: consumerDead.OriginalKey, value: []byte(consumerDead.OriginalValue)}, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}
	var relayDead outbox.DeadLetter
	if err := json.Unmarshal(envelope.Payload, &relayDead); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(relayDead.Payload) == 0 || relayDead.EventType == "" {
		return replayMessage{}, errNotReplayable
	}

	replayed := kafka.Envelope{
		ID:            relayDead.OutboxID,
		AggregateType: relayDead.AggregateType,
		AggregateID:   relayDead.AggregateID,
		EventType:     relayDead.EventType,
		Payload:       relayDead.Payload,
		PublishedAt:   now,
	}
	value, err := json.Marshal(replayed)
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	key := replayed.AggregateID
	if key == "" {
		key = replayed.ID
	}
	return replayMessage{topic: eventsTopic, key: key, value: value}, nil
}
