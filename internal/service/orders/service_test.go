package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/orders"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
)

type recordingRefunder struct {
	mu      sync.Mutex
	err     error
	credits map[string]int64
}

func (r *recordingRefunder) Credit(_ context.Context, userID string, amountMinor int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.credits == nil {
		r.credits = make(map[string]int64)
	}
	r.credits[userID] += amountMinor
	return nil
}

// conflictingRepo отдаёт конфликт версий на первые conflicts вызовов Save.
type conflictingRepo struct {
	*memory.OrderRepository
	conflicts int
	saves     int
}

func (r *conflictingRepo) Save(order domain.Order) error {
	r.saves++
	if r.saves <= r.conflicts {
		return domain.ErrOrderVersionConflict
	}
	return r.OrderRepository.Save(order)
}

func draft(payment domain.PaymentMethod) domain.OrderDraft {
	return domain.OrderDraft{
		CustomerID:    "user-1",
		Type:          domain.OrderTypePickUp,
		PaymentMethod: payment,
		Currency:      "USD",
		AmountMinor:   900,
		Items: []domain.OrderItem{
			{MenuItemID: "latte", Name: "Caffe Latte", Options: "Hot, Normal", Qty: 2, PriceMinor: 450},
		},
	}
}

func TestSubmitOrder_StoresPendingOrder(t *testing.T) {
	repo := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	outbox := memory.NewOutboxRepository()
	svc := orders.NewService(repo, orders.WithTimeline(timeline), orders.WithOutbox(outbox))

	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodWallet))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	order, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(900), order.AmountMinor)
	require.Len(t, order.Items, 1)
	assert.NotEmpty(t, order.Items[0].ID)

	events, err := svc.Timeline(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, orders.EventOrderCreated, events[0].Type)

	pending := outbox.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].AggregateID)

	list, err := svc.ListByCustomer(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSubmitOrder_RejectsInconsistentDraft(t *testing.T) {
	svc := orders.NewService(memory.NewOrderRepository())
	bad := draft(domain.PaymentMethodCash)
	bad.AmountMinor = 1

	_, err := svc.SubmitOrder(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestSubmitOrder_CanceledContext(t *testing.T) {
	svc := orders.NewService(memory.NewOrderRepository())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SubmitOrder(ctx, draft(domain.PaymentMethodCash))
	require.ErrorIs(t, err, context.Canceled)
}

func TestCancelOrder_RefundsWalletOrders(t *testing.T) {
	refunder := &recordingRefunder{}
	timeline := memory.NewTimelineRepository()
	svc := orders.NewService(memory.NewOrderRepository(), orders.WithRefunder(refunder), orders.WithTimeline(timeline))

	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodWallet))
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(context.Background(), id))
	require.NoError(t, svc.CancelOrder(context.Background(), id))

	order, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, order.Status)
	assert.Equal(t, int64(900), refunder.credits["user-1"])

	events, err := svc.Timeline(context.Background(), id)
	require.NoError(t, err)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderCanceled, orders.EventWalletRefunded}, types)
}

func TestCancelOrder_CashOrderIsNotRefunded(t *testing.T) {
	refunder := &recordingRefunder{}
	svc := orders.NewService(memory.NewOrderRepository(), orders.WithRefunder(refunder))

	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodCash))
	require.NoError(t, err)
	require.NoError(t, svc.CancelOrder(context.Background(), id))
	assert.Empty(t, refunder.credits)
}

func TestCancelOrder_NotCancelableOncePreparing(t *testing.T) {
	svc := orders.NewService(memory.NewOrderRepository())
	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodCash))
	require.NoError(t, err)

	require.NoError(t, svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: domain.OrderStatusPreparing}))

	err = svc.CancelOrder(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrOrderNotCancelable)

	err = svc.CancelOrder(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestApplyStatus_Lifecycle(t *testing.T) {
	svc := orders.NewService(memory.NewOrderRepository())
	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodCash))
	require.NoError(t, err)

	for _, status := range []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusReady, domain.OrderStatusCompleted} {
		require.NoError(t, svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: status, OccurredAt: time.Now()}))
	}

	order, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)

	err = svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: domain.OrderStatusPreparing})
	assert.True(t, domain.IsValidation(err))

	err = svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: "brewing"})
	assert.True(t, domain.IsValidation(err))
}

func TestApplyStatus_RetriesVersionConflict(t *testing.T) {
	repo := &conflictingRepo{OrderRepository: memory.NewOrderRepository(), conflicts: 2}
	svc := orders.NewService(repo)
	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodCash))
	require.NoError(t, err)

	require.NoError(t, svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: domain.OrderStatusPreparing}))
	assert.Equal(t, 3, repo.saves)

	repo.conflicts, repo.saves = 10, 0
	err = svc.ApplyStatus(context.Background(), orders.StatusUpdate{OrderID: id, Status: domain.OrderStatusReady})
	require.True(t, domain.IsVersionConflict(err))
}

func TestCancelOrder_RefundFailureIsRecorded(t *testing.T) {
	refunder := &recordingRefunder{err: errors.New("wallet offline")}
	timeline := memory.NewTimelineRepository()
	svc := orders.NewService(memory.NewOrderRepository(), orders.WithRefunder(refunder), orders.WithTimeline(timeline))

	id, err := svc.SubmitOrder(context.Background(), draft(domain.PaymentMethodWallet))
	require.NoError(t, err)
	require.NoError(t, svc.CancelOrder(context.Background(), id))

	events, err := svc.Timeline(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, orders.EventWalletRefundFailed, events[len(events)-1].Type)
	assert.Equal(t, "wallet offline", events[len(events)-1].Reason)
}
