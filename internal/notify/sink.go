package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/notification"
)

// DefaultQueue is the durable queue notifications are published to.
const DefaultQueue = "storefront.notifications"

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Sink = (*AMQPSink)(nil)

// AMQPSink publishes notifications as persistent JSON messages to a queue on
// the default exchange. A mail or push worker consumes them.
type AMQPSink struct {
	mu    sync.Mutex
	ch    publisher
	queue string
	now   func() time.Time
}

// NewAMQPSink opens a channel on conn and declares the queue.
func NewAMQPSink(conn *amqp.Connection, queue string) (*AMQPSink, *amqp.Channel, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, nil, errors.Wrapf(err, "declare %s", queue)
	}
	return newAMQPSink(ch, queue), ch, nil
}

func newAMQPSink(ch publisher, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue, now: time.Now}
}

// Send implements Sink.
func (s *AMQPSink) Send(ctx context.Context, n notification.Notification) error {
	body := encodeNotification(n, s.now().UTC())

	// amqp091 channels are not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now().UTC(),
		Type:         string(n.Kind),
		Body:         body,
	})
	if err != nil {
		return errors.Wrapf(err, "publish to %s", s.queue)
	}
	return nil
}

func encodeNotification(n notification.Notification, at time.Time) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("user_id")
	e.Str(n.UserID)
	e.FieldStart("title")
	e.Str(n.Title)
	e.FieldStart("message")
	e.Str(n.Message)
	e.FieldStart("kind")
	e.Str(string(n.Kind))
	e.FieldStart("sent_at")
	e.Str(at.Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}

var _ Sink = LogSink{}

// LogSink writes notifications to the log. Used when no broker is configured.
type LogSink struct {
	Logger *zap.Logger
}

// Send implements Sink.
func (s LogSink) Send(_ context.Context, n notification.Notification) error {
	s.Logger.Info("Notification",
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
	return nil
}
