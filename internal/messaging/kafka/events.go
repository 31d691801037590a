// Package kafka публикует события оформления в Kafka и принимает статусы заказов от кухни.
package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

// Топики кофейни.
const (
	TopicCheckoutEvents  = "cafe.checkout.events"
	TopicOrderStatus     = "cafe.order.status"
	TopicDeadLetterQueue = "cafe.dlq"
)

// Заголовки для повторной обработки и DLQ.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// Envelope: сообщение, в котором событие outbox уходит в топик.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OrderStatusMessage: статус заказа, присланный кухней или курьерской службой.
type OrderStatusMessage struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeadLetterMessage: сообщение, которое не удалось обработать.
type DeadLetterMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}

// ParseOrderStatus разбирает и проверяет OrderStatusMessage.
func ParseOrderStatus(message *sarama.ConsumerMessage) (OrderStatusMessage, error) {
	var msg OrderStatusMessage
	if err := json.Unmarshal(message.Value, &msg); err != nil {
		return OrderStatusMessage{}, fmt.Errorf("unmarshal order status: %w", err)
	}
	msg.OrderID = strings.TrimSpace(msg.OrderID)
	if msg.OrderID == "" && len(message.Key) > 0 {
		msg.OrderID = string(message.Key)
	}
	if msg.OrderID == "" {
		return OrderStatusMessage{}, fmt.Errorf("order status without order_id")
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = message.Timestamp
	}
	return msg, nil
}
