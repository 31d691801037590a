package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConsumerGroup struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeErr  error
}

func (m *mockConsumerGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if m.consumeFn != nil {
		return m.consumeFn(ctx, topics, handler)
	}
	<-ctx.Done()
	return nil
}

func (m *mockConsumerGroup) Errors() <-chan error { return m.errorsCh }

func (m *mockConsumerGroup) Close() error {
	close(m.errorsCh)
	return m.closeErr
}

func (m *mockConsumerGroup) Pause(map[string][]int32)  {}
func (m *mockConsumerGroup) Resume(map[string][]int32) {}
func (m *mockConsumerGroup) PauseAll()                 {}
func (m *mockConsumerGroup) ResumeAll()                {}

type mockSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []*sarama.ConsumerMessage
}

func (m *mockSession) Claims() map[string][]int32               { return nil }
func (m *mockSession) MemberID() string                         { return "member" }
func (m *mockSession) GenerationID() int32                      { return 1 }
func (m *mockSession) MarkOffset(string, int32, int64, string)  {}
func (m *mockSession) Commit()                                  {}
func (m *mockSession) ResetOffset(string, int32, int64, string) {}
func (m *mockSession) Context() context.Context                 { return m.ctx }
func (m *mockSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked = append(m.marked, msg)
}

type mockClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (m *mockClaim) Topic() string                            { return TopicOrderStatus }
func (m *mockClaim) Partition() int32                         { return 0 }
func (m *mockClaim) InitialOffset() int64                     { return 0 }
func (m *mockClaim) HighWaterMarkOffset() int64               { return 0 }
func (m *mockClaim) Messages() <-chan *sarama.ConsumerMessage { return m.messages }

func claimWith(messages ...*sarama.ConsumerMessage) *mockClaim {
	ch := make(chan *sarama.ConsumerMessage, len(messages))
	for _, msg := range messages {
		ch <- msg
	}
	close(ch)
	return &mockClaim{messages: ch}
}

func statusMessage(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: TopicOrderStatus, Offset: 7, Key: []byte("order-1"), Value: []byte(value)}
}

func testConsumer(handler MessageHandler, dlq *Producer, maxRetries int) *Consumer {
	return newConsumer(&mockConsumerGroup{errorsCh: make(chan error)}, ConsumerConfig{MaxRetries: maxRetries}, handler, dlq)
}

func TestConsumer_StartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group := &mockConsumerGroup{errorsCh: make(chan error, 1)}
	group.errorsCh <- errors.New("background error")
	consumer := newConsumer(group, ConsumerConfig{Topics: []string{TopicOrderStatus}}, func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil)

	consumer.Start(ctx)
	cancel()
	require.NoError(t, consumer.Stop())
}

func TestConsumer_StopError(t *testing.T) {
	group := &mockConsumerGroup{errorsCh: make(chan error), closeErr: errors.New("close failed")}
	consumer := newConsumer(group, ConsumerConfig{}, nil, nil)
	require.Error(t, consumer.Stop())
}

func TestConsumeClaim_MarksHandledMessages(t *testing.T) {
	var got []OrderStatusMessage
	handler := OrderStatusHandler(func(_ context.Context, msg OrderStatusMessage) error {
		got = append(got, msg)
		return nil
	})
	consumer := testConsumer(handler, nil, 3)
	session := &mockSession{ctx: context.Background()}

	require.NoError(t, consumer.ConsumeClaim(session, claimWith(
		statusMessage(`{"order_id":"order-1","status":"preparing"}`),
		statusMessage(`{"status":"ready","reason":"at the counter"}`),
	)))

	assert.Len(t, session.marked, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "preparing", got[0].Status)
	assert.Equal(t, "order-1", got[1].OrderID, "order id falls back to message key")
	assert.Equal(t, "at the counter", got[1].Reason)
}

func TestConsumeClaim_FailedMessageWithoutDLQIsNotMarked(t *testing.T) {
	attempts := 0
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		return errors.New("repository unavailable")
	}, nil, 3)
	session := &mockSession{ctx: context.Background()}

	require.NoError(t, consumer.ConsumeClaim(session, claimWith(statusMessage(`{}`))))
	assert.Empty(t, session.marked)
	assert.Equal(t, 3, attempts)
}

func TestProcess_RetriesUntilSuccess(t *testing.T) {
	attempts := 0
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		if attempts < 2 {
			return errors.New("temporary")
		}
		return nil
	}, nil, 3)

	require.NoError(t, consumer.process(context.Background(), statusMessage(`{}`)))
	assert.Equal(t, 2, attempts)
}

func TestProcess_RetryHeaderConsumesBudget(t *testing.T) {
	attempts := 0
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		attempts++
		return errors.New("temporary")
	}, nil, 3)
	msg := statusMessage(`{}`)
	msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("2")}}

	require.Error(t, consumer.process(context.Background(), msg))
	assert.Equal(t, 1, attempts)
}

func TestProcess_PermanentErrorGoesStraightToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var letter DeadLetterMessage
		if err := json.Unmarshal(value, &letter); err != nil {
			return err
		}
		if letter.OriginalTopic != TopicOrderStatus || letter.Attempts != 1 {
			return errors.New("unexpected dead letter")
		}
		return nil
	})

	attempts := 0
	handler := OrderStatusHandler(func(context.Context, OrderStatusMessage) error {
		attempts++
		return nil
	})
	consumer := testConsumer(handler, NewProducerFromSync(mockProducer, nil), 3)

	require.NoError(t, consumer.process(context.Background(), statusMessage(`{not json`)))
	assert.Zero(t, attempts)
	require.NoError(t, mockProducer.Close())
}

func TestProcess_DLQFailureKeepsMessage(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error {
		return errors.New("permanent")
	}, NewProducerFromSync(mockProducer, nil), 1)

	err := consumer.process(context.Background(), statusMessage(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestRetryCountAndParse(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("5")}}}
	assert.Equal(t, 5, retryCount(msg))

	msg = &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte("bad")}}}
	assert.Equal(t, 0, retryCount(msg))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	parsed, err := ParseOrderStatus(&sarama.ConsumerMessage{Timestamp: ts, Value: []byte(`{"order_id":" o-1 ","status":"ready"}`)})
	require.NoError(t, err)
	assert.Equal(t, "o-1", parsed.OrderID)
	assert.Equal(t, ts, parsed.OccurredAt)

	_, err = ParseOrderStatus(&sarama.ConsumerMessage{Value: []byte(`{"status":"ready"}`)})
	assert.Error(t, err)
}

func TestConsumeClaim_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := testConsumer(func(context.Context, *sarama.ConsumerMessage) error { return nil }, nil, 1)
	session := &mockSession{ctx: ctx}
	claim := &mockClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}
