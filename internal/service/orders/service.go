// Package orders: хранилище заказов кофейни: приём оформленных заказов, отмена
// и применение статусов, приходящих от кухни.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
)

// Типы событий заказа.
const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCanceled      = "OrderCanceled"
	EventWalletRefunded     = "WalletRefunded"
	EventWalletRefundFailed = "WalletRefundFailed"
)

const (
	maxSaveAttempts = 3
	saveBaseDelay   = 10 * time.Millisecond
)

// Refunder возвращает средства на кошелёк при отмене заказа, оплаченного из кошелька.
type Refunder interface {
	Credit(ctx context.Context, userID string, amountMinor int64) error
}

// StatusUpdate: изменение статуса заказа, пришедшее извне.
type StatusUpdate struct {
	OrderID    string             `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	Reason     string             `json:"reason,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Service реализует domain.OrderSink поверх OrderRepository.
type Service struct {
	repo     domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	refunder Refunder
	logger   *log.Entry
	now      func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline включает запись истории заказа.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithOutbox включает публикацию событий заказа.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

// WithRefunder включает возврат средств при отмене заказов, оплаченных кошельком.
func WithRefunder(r Refunder) Option {
	return func(s *Service) { s.refunder = r }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService создаёт Service.
func NewService(repo domain.OrderRepository, options ...Option) *Service {
	s := &Service{
		repo:   repo,
		logger: log.WithField("component", "orders"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// SubmitOrder сохраняет заказ в статусе pending и возвращает его идентификатор.
func (s *Service) SubmitOrder(ctx context.Context, draft domain.OrderDraft) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := s.now()
	order := domain.Order{
		ID:              uuid.NewString(),
		CustomerID:      draft.CustomerID,
		Status:          domain.OrderStatusPending,
		Type:            draft.Type,
		PaymentMethod:   draft.PaymentMethod,
		Currency:        draft.Currency,
		AmountMinor:     draft.AmountMinor,
		Items:           make([]domain.OrderItem, 0, len(draft.Items)),
		DeliveryAddress: draft.DeliveryAddress,
		TableNumber:     draft.TableNumber,
		Instructions:    draft.Instructions,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, item := range draft.Items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		order.Items = append(order.Items, item)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	if err := s.repo.Create(order); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"customer_id":  order.CustomerID,
		"amount_minor": order.AmountMinor,
	}).Info("order accepted")
	s.emit(order, EventOrderCreated, "", map[string]any{
		"amount_minor":   order.AmountMinor,
		"currency":       order.Currency,
		"order_type":     string(order.Type),
		"payment_method": string(order.PaymentMethod),
		"items":          len(order.Items),
	})
	return order.ID, nil
}

// CancelOrder отменяет заказ, который ещё не начали готовить.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	order, err := s.transition(ctx, orderID, domain.OrderStatusCanceled, "canceled by customer")
	if errors.Is(err, ErrStatusUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}
	s.refund(ctx, order)
	return nil
}

// ApplyStatus применяет обновление статуса. Повтор уже применённого статуса не считается ошибкой.
func (s *Service) ApplyStatus(ctx context.Context, update StatusUpdate) error {
	if strings.TrimSpace(update.OrderID) == "" {
		return domain.NewValidationError("order_id", "is required")
	}
	if !update.Status.Valid() {
		return domain.NewValidationError("status", "unsupported status "+string(update.Status))
	}
	order, err := s.transition(ctx, update.OrderID, update.Status, update.Reason)
	if errors.Is(err, ErrStatusUnchanged) {
		s.logger.WithField("order_id", update.OrderID).Debug("duplicate status update ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if update.Status == domain.OrderStatusCanceled {
		s.refund(ctx, order)
	}
	return nil
}

// Get возвращает заказ по идентификатору.
func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	return s.repo.Get(orderID)
}

// ListByCustomer возвращает последние заказы клиента.
func (s *Service) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.repo.ListByCustomer(customerID, limit)
}

// Timeline возвращает историю заказа; без подключённого timeline история пуста.
func (s *Service) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return nil, nil
	}
	return s.timeline.List(orderID)
}

// transition сохраняет новый статус с повтором при конфликте версий.
// Возвращает заказ после сохранения; если статус уже установлен, возвращает ErrStatusUnchanged.
func (s *Service) transition(ctx context.Context, orderID string, next domain.OrderStatus, reason string) (domain.Order, error) {
	delay := saveBaseDelay
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Order{}, err
		}
		order, err := s.repo.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.Status == next {
			return order, ErrStatusUnchanged
		}
		if !order.Status.CanTransitionTo(next) {
			if next == domain.OrderStatusCanceled {
				return order, domain.ErrOrderNotCancelable
			}
			return order, domain.NewValidationError("status", fmt.Sprintf("cannot move order from %s to %s", order.Status, next))
		}

		previous := order.Status
		order.Status = next
		order.UpdatedAt = s.now()
		err = s.repo.Save(order)
		if err == nil {
			order.Version++
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"from":     string(previous),
				"to":       string(next),
			}).Info("order status changed")

			eventType := EventOrderStatusChanged
			if next == domain.OrderStatusCanceled {
				eventType = EventOrderCanceled
			}
			s.emit(order, eventType, reason, map[string]any{"from": string(previous), "status": string(next)})
			return order, nil
		}
		if !domain.IsVersionConflict(err) || attempt >= maxSaveAttempts {
			return domain.Order{}, err
		}

		s.logger.WithFields(log.Fields{"order_id": orderID, "attempt": attempt}).Warn("version conflict detected, retrying")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Order{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func (s *Service) refund(ctx context.Context, order domain.Order) {
	if s.refunder == nil || order.PaymentMethod != domain.PaymentMethodWallet || order.AmountMinor == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.refunder.Credit(ctx, order.CustomerID, order.AmountMinor); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("refund for canceled order failed")
		s.emit(order, EventWalletRefundFailed, err.Error(), map[string]any{"amount_minor": order.AmountMinor})
		return
	}
	s.emit(order, EventWalletRefunded, "order canceled", map[string]any{"amount_minor": order.AmountMinor})
}

func (s *Service) emit(order domain.Order, eventType, reason string, payload map[string]any) {
	occurred := s.now()
	if s.timeline != nil {
		if err := s.timeline.Append(domain.TimelineEvent{
			AggregateID: order.ID,
			Type:        eventType,
			Reason:      reason,
			Occurred:    occurred,
		}); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("append timeline event failed")
		}
	}
	if s.outbox == nil {
		return
	}

	if payload == nil {
		payload = make(map[string]any)
	}
	payload["order_id"] = order.ID
	payload["customer_id"] = order.CustomerID
	payload["ts"] = occurred.Format(time.RFC3339Nano)
	if reason != "" {
		payload["reason"] = reason
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("marshal event failed")
		return
	}
	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       data,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("enqueue event failed")
	}
}

// ErrStatusUnchanged: заказ уже находится в запрошенном статусе.
var ErrStatusUnchanged = errors.New("order already has requested status")

var _ domain.OrderSink = (*Service)(nil)
