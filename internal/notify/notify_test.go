package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/domain/notification"
)

type recordingSink struct {
	mu    sync.Mutex
	sent  []notification.Notification
	err   error
	block chan struct{}
}

func (s *recordingSink) Send(_ context.Context, n notification.Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestDispatcher(t *testing.T, sink Sink, cfg Config) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(sink, zaptest.NewLogger(t), noop.NewMeterProvider().Meter("test"), cfg)
	require.NoError(t, err)
	return d
}

func TestDispatcher_DeliversAll(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(t, sink, Config{Buffer: 64, Workers: 4})

	for range 50 {
		d.Notify(context.Background(), notification.Notification{UserID: "u1", Kind: notification.KindOrderCreated})
	}
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 50, sink.count())
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := newTestDispatcher(t, sink, Config{Buffer: 1, Workers: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 10 {
			d.Notify(context.Background(), notification.Notification{UserID: "u1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	// One in flight plus one buffered at most.
	assert.LessOrEqual(t, sink.count(), 2)
	assert.GreaterOrEqual(t, sink.count(), 1)
}

func TestDispatcher_SinkErrorIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	d := newTestDispatcher(t, sink, Config{})

	d.Notify(context.Background(), notification.Notification{UserID: "u1"})
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, sink.count())
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(t, sink, Config{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), notification.Notification{UserID: "u1"})
	})
	assert.Zero(t, sink.count())
}

func TestDispatcher_CloseTimeout(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	defer close(sink.block)
	d := newTestDispatcher(t, sink, Config{Workers: 1})
	d.Notify(context.Background(), notification.Notification{UserID: "u1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

type mockPublisher struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
}

func (p *mockPublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	p.exchange, p.key, p.msg = exchange, key, msg
	return p.err
}

func TestAMQPSink_Send(t *testing.T) {
	pub := &mockPublisher{}
	sink := newAMQPSink(pub, "notifications")
	sink.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	err := sink.Send(context.Background(), notification.Notification{
		UserID:  "u1",
		Title:   "Order placed",
		Message: "Order o1 was placed",
		Kind:    notification.KindOrderCreated,
	})
	require.NoError(t, err)

	assert.Empty(t, pub.exchange)
	assert.Equal(t, "notifications", pub.key)
	assert.Equal(t, amqp.Persistent, pub.msg.DeliveryMode)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, string(notification.KindOrderCreated), pub.msg.Type)

	got := map[string]string{}
	require.NoError(t, jx.DecodeBytes(pub.msg.Body).Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		got[key] = v
		return err
	}))
	assert.Equal(t, map[string]string{
		"user_id": "u1",
		"title":   "Order placed",
		"message": "Order o1 was placed",
		"kind":    "order_created",
		"sent_at": "2025-03-01T12:00:00Z",
	}, got)
}

func TestAMQPSink_SendError(t *testing.T) {
	pub := &mockPublisher{err: amqp.ErrClosed}
	sink := newAMQPSink(pub, "notifications")

	err := sink.Send(context.Background(), notification.Notification{UserID: "u1"})
	require.ErrorIs(t, err, amqp.ErrClosed)
}
