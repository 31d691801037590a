package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/metrics"
)

const (
	defaultCurrency       = "USD"
	defaultIdempotencyTTL = 24 * time.Hour
)

// Coordinator проводит оформление по шагам validating → funds_check → submitting → clearing.
type Coordinator struct {
	ledger      BalanceLedger
	orders      domain.OrderSink
	outbox      domain.OutboxRepository
	timeline    domain.TimelineRepository
	idempotency domain.IdempotencyRepository
	metrics     *metrics.CheckoutMetrics
	logger      *log.Entry

	currency       string
	idempotencyTTL time.Duration
	now            func() time.Time
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithOutbox включает публикацию событий оформления через transactional outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(c *Coordinator) { c.outbox = repo }
}

// WithTimeline включает запись событий в timeline.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(c *Coordinator) { c.timeline = repo }
}

// WithIdempotency включает обработку ключей идемпотентности.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.idempotency = repo
		if ttl > 0 {
			c.idempotencyTTL = ttl
		}
	}
}

// WithMetrics включает метрики оформления.
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCurrency задаёт валюту заказов.
func WithCurrency(currency string) Option {
	return func(c *Coordinator) {
		if currency = strings.TrimSpace(currency); currency != "" {
			c.currency = currency
		}
	}
}

// NewCoordinator создаёт координатор оформления.
func NewCoordinator(ledger BalanceLedger, orders domain.OrderSink, options ...Option) *Coordinator {
	c := &Coordinator{
		ledger:         ledger,
		orders:         orders,
		logger:         log.WithField("component", "checkout"),
		currency:       defaultCurrency,
		idempotencyTTL: defaultIdempotencyTTL,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// attempt: состояние одной попытки оформления.
type attempt struct {
	id      string
	req     Request
	step    Step
	lines   []domain.CartLine
	totals  domain.CartTotals
	debited bool
	orderID string
	events  []domain.TimelineEvent
	logger  *log.Entry
}

// PlaceOrder оформляет заказ из корзины cart.
// После начала записи заказа оформление не прерывается отменой ctx.
func (c *Coordinator) PlaceOrder(ctx context.Context, cart CartSession, req Request) (Result, error) {
	if strings.TrimSpace(req.IdempotencyKey) != "" && c.idempotency != nil {
		return c.withIdempotency(ctx, req, func(ctx context.Context) (Result, error) {
			return c.placeOrder(ctx, cart, req)
		})
	}
	return c.placeOrder(ctx, cart, req)
}

func (c *Coordinator) placeOrder(ctx context.Context, cart CartSession, req Request) (result Result, err error) {
	start := c.now()
	a := &attempt{id: uuid.NewString(), req: req, step: StepValidating}
	a.logger = c.logger.WithFields(log.Fields{
		"checkout_id": a.id,
		"user_id":     req.UserID,
	})

	if c.metrics != nil {
		c.metrics.RecordStarted()
		defer func() { c.metrics.RecordFinished(c.now().Sub(start)) }()
	}
	defer func() {
		if err != nil {
			c.fail(a, err)
		}
	}()

	if err := c.validate(ctx, cart, a); err != nil {
		return Result{}, err
	}
	c.emit(a, EventCheckoutStarted, map[string]any{
		"payment_method": string(req.PaymentMethod),
		"order_type":     string(req.Type),
		"total_minor":    a.totals.TotalMinor,
		"item_count":     a.totals.ItemCount,
	})

	if req.PaymentMethod == domain.PaymentMethodWallet {
		if err := c.debit(ctx, a); err != nil {
			return Result{}, err
		}
	} else if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	// С этого момента отмена запроса не прерывает оформление: заказ либо записывается
	// и оформленные позиции уходят из корзины, либо списание компенсируется.
	ctx = context.WithoutCancel(ctx)

	if err := c.submit(ctx, a); err != nil {
		return Result{}, err
	}

	result = Result{
		CheckoutID: a.id,
		OrderID:    a.orderID,
		TotalMinor: a.totals.TotalMinor,
		Currency:   c.currency,
		ItemCount:  a.totals.ItemCount,
		Debited:    a.debited,
	}
	result.ClearWarning = c.clear(ctx, cart, a)

	a.step = StepCompleted
	c.emit(a, EventCheckoutCompleted, map[string]any{
		"order_id":    a.orderID,
		"total_minor": a.totals.TotalMinor,
	})
	if c.metrics != nil {
		c.metrics.RecordCompleted()
	}
	a.logger.WithFields(log.Fields{
		"order_id":    a.orderID,
		"total_minor": a.totals.TotalMinor,
	}).Info("checkout completed")
	return result, nil
}

func (c *Coordinator) validate(ctx context.Context, cart CartSession, a *attempt) error {
	defer c.observeStep(StepValidating, c.now())

	req := a.req
	if strings.TrimSpace(req.UserID) == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if !req.Type.Valid() {
		return domain.NewValidationError("order_type", "unsupported order type "+string(req.Type))
	}
	if !req.PaymentMethod.Valid() {
		return domain.NewValidationError("payment_method", "unsupported payment method "+string(req.PaymentMethod))
	}
	if req.Type == domain.OrderTypeDelivery && strings.TrimSpace(req.DeliveryAddress) == "" {
		return domain.NewValidationError("delivery_address", "is required for delivery")
	}

	lines, err := cart.Lines(ctx)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return domain.NewValidationError("cart", "is empty")
	}
	for _, line := range lines {
		if errs := line.Validate(); len(errs) > 0 {
			return errs[0]
		}
	}

	cartView := domain.NewCart(lines)
	a.lines = cartView.Lines
	a.totals = cartView.Totals
	return nil
}

func (c *Coordinator) debit(ctx context.Context, a *attempt) error {
	a.step = StepFundsCheck
	defer c.observeStep(StepFundsCheck, c.now())

	total := a.totals.TotalMinor
	balance, err := c.ledger.GetBalance(ctx, a.req.UserID)
	if err != nil {
		return err
	}
	if balance < total {
		return &domain.InsufficientFundsError{UserID: a.req.UserID, BalanceMinor: balance, RequestedMinor: total}
	}
	// Отмена до списания не оставляет следов.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ledger.Debit(ctx, a.req.UserID, total); err != nil {
		return err
	}

	a.debited = true
	c.emit(a, EventWalletDebited, map[string]any{"amount_minor": total})
	return nil
}

func (c *Coordinator) submit(ctx context.Context, a *attempt) error {
	a.step = StepSubmitting
	defer c.observeStep(StepSubmitting, c.now())

	draft := domain.OrderDraft{
		CustomerID:      a.req.UserID,
		Type:            a.req.Type,
		PaymentMethod:   a.req.PaymentMethod,
		Currency:        c.currency,
		AmountMinor:     a.totals.TotalMinor,
		Items:           domain.OrderItemsFromCart(a.lines, c.now()),
		DeliveryAddress: a.req.DeliveryAddress,
		TableNumber:     a.req.TableNumber,
		Instructions:    a.req.Instructions,
	}

	orderID, err := c.orders.SubmitOrder(ctx, draft)
	if err == nil && strings.TrimSpace(orderID) == "" {
		err = errors.New("order store returned empty order id")
	}
	if err != nil {
		a.logger.WithError(err).Warn("order submission failed")
		if !a.debited {
			return &domain.OrderSubmissionError{Err: err}
		}
		return c.compensate(ctx, a, err)
	}

	a.orderID = orderID
	a.logger = a.logger.WithField("order_id", orderID)
	c.rekeyTimeline(a)
	c.emit(a, EventOrderSubmitted, map[string]any{"order_id": orderID})
	return nil
}

// compensate возвращает списанные средства и только потом сообщает об ошибке записи заказа.
func (c *Coordinator) compensate(ctx context.Context, a *attempt, submitErr error) error {
	total := a.totals.TotalMinor
	if err := c.ledger.Credit(ctx, a.req.UserID, total); err != nil {
		a.logger.WithError(err).WithField("amount_minor", total).Error("compensating credit failed, wallet left debited")
		if c.metrics != nil {
			c.metrics.RecordCompensation(false)
		}
		c.emit(a, EventWalletCreditFail, map[string]any{
			"amount_minor": total,
			"reason":       err.Error(),
		})
		return &domain.OrderSubmissionError{Err: errors.Join(submitErr, err)}
	}

	a.debited = false
	if c.metrics != nil {
		c.metrics.RecordCompensation(true)
	}
	c.emit(a, EventWalletCredited, map[string]any{
		"amount_minor": total,
		"reason":       "order submission failed",
	})
	return &domain.OrderSubmissionError{Err: submitErr, Compensated: true}
}

// clear возвращает текст предупреждения, если корзину очистить не удалось.
func (c *Coordinator) clear(ctx context.Context, cart CartSession, a *attempt) string {
	a.step = StepClearing
	defer c.observeStep(StepClearing, c.now())

	if err := cart.RemoveOrdered(ctx, a.lines); err != nil {
		a.logger.WithError(err).Warn("order placed but cart was not cleared")
		if c.metrics != nil {
			c.metrics.RecordClearWarning()
		}
		c.emit(a, EventCartClearFailed, map[string]any{
			"order_id": a.orderID,
			"reason":   err.Error(),
		})
		return "order placed but cart could not be cleared: " + err.Error()
	}
	return ""
}

func (c *Coordinator) fail(a *attempt, err error) {
	failedAt := a.step
	a.step = StepFailed
	reason := failureReason(err)
	if c.metrics != nil {
		c.metrics.RecordFailed(reason)
	}
	// Ошибки валидации не попадают в outbox: попытка оформления фактически не начиналась.
	if failedAt == StepValidating {
		a.logger.WithError(err).Debug("checkout rejected")
		return
	}
	a.logger.WithError(err).WithField("step", string(failedAt)).Warn("checkout failed")
	c.emit(a, EventCheckoutFailed, map[string]any{
		"step":   string(failedAt),
		"reason": err.Error(),
		"kind":   reason,
	})
}

func (c *Coordinator) observeStep(step Step, started time.Time) {
	if c.metrics != nil {
		c.metrics.RecordStepDuration(string(step), c.now().Sub(started))
	}
}

func failureReason(err error) string {
	switch {
	case domain.IsValidation(err):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrOrderSubmission):
		return "submission"
	case errors.Is(err, domain.ErrAccount):
		return "account"
	case domain.IsStorageError(err):
		return "storage"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
