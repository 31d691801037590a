package checkout

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

const (
	aggregateCheckout = "checkout"
	aggregateOrder    = "order"
)

// aggregate возвращает ключ событий: id оформления до записи заказа, затем id заказа.
func (a *attempt) aggregate() (string, string) {
	if a.orderID != "" {
		return aggregateOrder, a.orderID
	}
	return aggregateCheckout, a.id
}

func (c *Coordinator) emit(a *attempt, eventType string, payload map[string]any) {
	if payload == nil {
		payload = make(map[string]any)
	}
	occurred := c.now()
	payload["checkout_id"] = a.id
	payload["user_id"] = a.req.UserID
	if _, ok := payload["step"]; !ok {
		payload["step"] = string(a.step)
	}
	payload["ts"] = occurred.Format(time.RFC3339Nano)

	aggregateType, aggregateID := a.aggregate()
	fields := log.Fields{"checkout_id": a.id, "event": eventType}

	if c.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.WithError(err).WithFields(fields).Error("marshal event failed")
		} else if _, err := c.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			c.logger.WithError(err).WithFields(fields).Error("enqueue event failed")
		} else if c.metrics != nil {
			c.metrics.RecordOutboxEvent()
		}
	}

	event := domain.TimelineEvent{
		AggregateID: aggregateID,
		CheckoutID:  a.id,
		Type:        eventType,
		Occurred:    occurred,
	}
	if reason, ok := payload["reason"].(string); ok {
		event.Reason = reason
	}
	a.events = append(a.events, event)
	c.appendTimeline(event, fields)
}

// rekeyTimeline дублирует события, записанные до появления заказа, под id заказа.
func (c *Coordinator) rekeyTimeline(a *attempt) {
	if c.timeline == nil {
		return
	}
	for _, event := range a.events {
		if event.AggregateID == a.orderID {
			continue
		}
		event.AggregateID = a.orderID
		c.appendTimeline(event, log.Fields{"checkout_id": a.id, "event": event.Type})
	}
}

func (c *Coordinator) appendTimeline(event domain.TimelineEvent, fields log.Fields) {
	if c.timeline == nil {
		return
	}
	if err := c.timeline.Append(event); err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("append timeline event failed")
		return
	}
	if c.metrics != nil {
		c.metrics.RecordTimelineEvent()
	}
}
