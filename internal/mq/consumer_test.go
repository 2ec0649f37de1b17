package mq_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Anomalix/internal/domain"
	"github.com/shaiso/Anomalix/internal/mq"
	"github.com/shaiso/Anomalix/internal/mq/mqtest"
)

const waitFor = 2 * time.Second

type runningConsumer struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// stop отменяет контекст и ждёт завершения Start.
func (r *runningConsumer) stop() error {
	r.cancel()
	<-r.done
	return r.err
}

// runConsumer запускает consumer в фоне. Остановка — в t.Cleanup.
func runConsumer(t *testing.T, c *mq.Consumer) *runningConsumer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := &runningConsumer{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = c.Start(ctx)
	}()

	t.Cleanup(func() { _ = r.stop() })
	return r
}

func publishRequest(t *testing.T, broker *mqtest.Broker, queue string, msg amqp.Publishing) {
	t.Helper()
	if err := broker.Publish(queue, msg); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func request(token string) amqp.Publishing {
	return amqp.Publishing{
		CorrelationId: token,
		MessageId:     token,
		ReplyTo:       "replies",
		Body:          []byte(`{"EventID":"evt-1"}`),
	}
}

// --- Consumer Tests ---

func TestConsumer_AckAfterReply(t *testing.T) {
	broker := mqtest.NewBroker()

	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue: "work",
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			return d.Reply(ctx, domain.NoAnomaly("evt-1"))
		},
	})
	r := runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-1"))

	require.Eventually(t, func() bool { return broker.Acked() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, broker.PublishedCount("replies"))
	require.Equal(t, "tok-1", broker.Published("replies")[0].CorrelationId)
	require.Zero(t, broker.Unacked())

	require.ErrorIs(t, r.stop(), context.Canceled)
}

func TestConsumer_RequeueThenDeadLetter(t *testing.T) {
	broker := mqtest.NewBroker()
	topo := mq.Topology{WorkQueue: "work", DeadLetterExchange: "dlx", DeadLetterQueue: "work.dlq"}
	require.NoError(t, mq.DeclareTopology(broker.Channel(), topo))

	var calls atomic.Int32
	var hookCalls atomic.Int32
	handlerErr := errors.New("database unavailable")

	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue:           "work",
		MaxRedeliveries: 2,
		Handler: func(context.Context, *mq.Delivery) error {
			calls.Add(1)
			return handlerErr
		},
		OnDeadLetter: func(ctx context.Context, d *mq.Delivery, cause error) error {
			hookCalls.Add(1)
			if !errors.Is(cause, handlerErr) {
				t.Errorf("expected handler error as cause, got %v", cause)
			}
			return d.Reply(ctx, domain.ProcessingFailed(cause))
		},
	})
	runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-2"))

	require.Eventually(t, func() bool { return len(broker.DeadLettered()) == 1 }, waitFor, 5*time.Millisecond)

	require.Equal(t, int32(3), calls.Load(), "first delivery plus two redeliveries")
	require.Equal(t, 2, broker.Requeued())
	require.Equal(t, int32(1), hookCalls.Load())
	require.Equal(t, 1, broker.Pending("work.dlq"), "rejected message should land in the DLQ")

	replies := broker.Published("replies")
	require.Len(t, replies, 1, "exactly one reply per request")

	resp, err := mq.DecodeResponse(replies[0].Body)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, resp.StatusCode)
	require.Equal(t, "Failed to process event: database unavailable", resp.Message)
}

func TestConsumer_RedeliveredSuccessResetsCounter(t *testing.T) {
	broker := mqtest.NewBroker()
	tracker := mq.NewMemoryTracker()

	var calls atomic.Int32
	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue:   "work",
		Tracker: tracker,
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			return d.Reply(ctx, domain.NoAnomaly("evt-1"))
		},
	})
	runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-3"))

	require.Eventually(t, func() bool { return broker.Acked() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, broker.Requeued())

	// Счётчик сброшен: следующая ошибка снова считается первой
	n, err := tracker.Increment(context.Background(), "tok-3")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestConsumer_FatalStops(t *testing.T) {
	broker := mqtest.NewBroker()

	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue: "work",
		Handler: func(context.Context, *mq.Delivery) error {
			return errors.Join(mq.ErrFatal, errors.New("reply channel closed"))
		},
	})
	r := runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-4"))

	select {
	case <-r.done:
		require.ErrorIs(t, r.err, mq.ErrFatal)
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop on fatal error")
	}
	require.Equal(t, 1, broker.Requeued(), "message should go back to the queue for another worker")
}

func TestConsumer_DeadLetterHookFailureIsFatal(t *testing.T) {
	broker := mqtest.NewBroker()

	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue:           "work",
		MaxRedeliveries: 1,
		Handler: func(context.Context, *mq.Delivery) error {
			return errors.New("boom")
		},
		OnDeadLetter: func(context.Context, *mq.Delivery, error) error {
			return errors.New("reply publish failed")
		},
	})
	r := runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-5"))

	select {
	case <-r.done:
		require.ErrorIs(t, r.err, mq.ErrFatal)
	case <-time.After(waitFor):
		t.Fatal("consumer did not stop on dead-letter hook failure")
	}
	require.Empty(t, broker.DeadLettered())
}

func TestConsumer_MissingReplyAddress(t *testing.T) {
	broker := mqtest.NewBroker()

	var calls atomic.Int32
	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue: "work",
		Handler: func(context.Context, *mq.Delivery) error {
			calls.Add(1)
			return nil
		},
	})
	runConsumer(t, c)

	publishRequest(t, broker, "work", amqp.Publishing{Body: []byte(`{}`)})

	require.Eventually(t, func() bool { return len(broker.DeadLettered()) == 1 }, waitFor, 5*time.Millisecond)
	require.Zero(t, calls.Load(), "handler must not run without a reply address")
}

func TestConsumer_TrackerFailureRequeues(t *testing.T) {
	broker := mqtest.NewBroker()

	var calls atomic.Int32
	c := mq.NewConsumer(broker, discardLogger(), mq.ConsumerConfig{
		Queue:   "work",
		Tracker: failingTracker{},
		Handler: func(ctx context.Context, d *mq.Delivery) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return d.Reply(ctx, domain.NoAnomaly("evt-1"))
		},
	})
	runConsumer(t, c)

	publishRequest(t, broker, "work", request("tok-6"))

	require.Eventually(t, func() bool { return broker.Acked() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 2, broker.Requeued())
	require.Empty(t, broker.DeadLettered())
}

func TestConsumer_WaitsForConnection(t *testing.T) {
	provider := &offlineProvider{reconnect: make(chan struct{})}

	c := mq.NewConsumer(provider, discardLogger(), mq.ConsumerConfig{
		Queue:   "work",
		Handler: func(context.Context, *mq.Delivery) error { return nil },
	})
	r := runConsumer(t, c)

	select {
	case <-r.done:
		t.Fatalf("consumer exited while waiting for connection: %v", r.err)
	case <-time.After(50 * time.Millisecond):
	}

	require.ErrorIs(t, r.stop(), context.Canceled)
}

type failingTracker struct{}

func (failingTracker) Increment(context.Context, string) (int, error) {
	return 0, errors.New("redis: connection refused")
}

func (failingTracker) Reset(context.Context, string) error {
	return errors.New("redis: connection refused")
}

type offlineProvider struct {
	reconnect chan struct{}
}

func (p *offlineProvider) Channel() mq.Channel              { return nil }
func (p *offlineProvider) ReconnectNotify() <-chan struct{} { return p.reconnect }
