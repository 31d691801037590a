package domain

import "time"

// Репозитории, на которых построены заказы, outbox, timeline и идемпотентность оформления.
// Реализации: storage/memory (тесты, драйвер memory) и storage/postgres.

// OrderRepository хранит заказы, записанные через OrderSink.
type OrderRepository interface {
	// Create сохраняет новый заказ; повтор ID возвращает ошибку.
	Create(order Order) error
	// Get возвращает ErrOrderNotFound для неизвестного ID.
	Get(id string) (Order, error)
	// ListByCustomer возвращает заказы клиента от новых к старым; limit <= 0 без ограничения.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// Save записывает заказ, если Version совпадает с сохранённой, иначе ErrOrderVersionConflict.
	Save(order Order) error
}

// OutboxRepository копит события оформления и заказов до публикации в Kafka.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт pending-сообщения в порядке постановки.
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит историю оформления и заказа по AggregateID.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(aggregateID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит результаты оформлений по ключу Idempotency-Key.
type IdempotencyRepository interface {
	// CreateProcessing при существующем ключе возвращает запись и
	// ErrIdempotencyKeyAlreadyExists либо ErrIdempotencyHashMismatch.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// DeleteExpired удаляет не больше limit записей с TTLAt <= before.
	DeleteExpired(before time.Time, limit int) (int, error)
}

// OutboxMessage: событие, ожидающее публикации. AggregateType: checkout или order.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats: размер backlog и время самого старого pending-сообщения.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
