package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/service/checkout"
)

type scriptedSink struct {
	mu        sync.Mutex
	submitErr error
	cancelErr error
	calls     int
}

func (s *scriptedSink) SubmitOrder(context.Context, domain.OrderDraft) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.submitErr != nil {
		return "", s.submitErr
	}
	return "order-1", nil
}

func (s *scriptedSink) CancelOrder(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.cancelErr
}

func (s *scriptedSink) set(submitErr error) {
	s.mu.Lock()
	s.submitErr = submitErr
	s.mu.Unlock()
}

func TestBreakerSink_BusinessErrorsDoNotTrip(t *testing.T) {
	sink := &scriptedSink{cancelErr: domain.ErrOrderNotCancelable}
	breaker := checkout.NewBreakerSink(sink, checkout.BreakerConfig{ConsecutiveFailures: 2}, nil)

	for i := 0; i < 5; i++ {
		err := breaker.CancelOrder(context.Background(), "order-1")
		require.ErrorIs(t, err, domain.ErrOrderNotCancelable)
	}
	sink.set(context.Canceled)
	for i := 0; i < 3; i++ {
		_, err := breaker.SubmitOrder(context.Background(), domain.OrderDraft{})
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, "closed", breaker.State())
	assert.Equal(t, 8, sink.calls)
}

func TestBreakerSink_RecoversAfterTimeout(t *testing.T) {
	sink := &scriptedSink{submitErr: errors.New("dial tcp: connection refused")}
	breaker := checkout.NewBreakerSink(sink, checkout.BreakerConfig{
		ConsecutiveFailures: 1,
		Timeout:             20 * time.Millisecond,
	}, nil)

	_, err := breaker.SubmitOrder(context.Background(), domain.OrderDraft{})
	require.Error(t, err)
	require.Equal(t, "open", breaker.State())

	_, err = breaker.SubmitOrder(context.Background(), domain.OrderDraft{})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Contains(t, err.Error(), "order store unavailable")

	sink.set(nil)
	require.Eventually(t, func() bool {
		return breaker.State() == "half-open"
	}, time.Second, 5*time.Millisecond)

	orderID, err := breaker.SubmitOrder(context.Background(), domain.OrderDraft{})
	require.NoError(t, err)
	assert.Equal(t, "order-1", orderID)
	assert.Equal(t, "closed", breaker.State())
	assert.Equal(t, 2, sink.calls)
}
