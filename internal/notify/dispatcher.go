// Package notify delivers user notifications off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/notification"
)

// Sink performs the actual delivery of one notification.
type Sink interface {
	Send(ctx context.Context, n notification.Notification) error
}

// Config tunes a Dispatcher.
type Config struct {
	Buffer      int
	Workers     int
	SendTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
}

var _ notification.Notifier = (*Dispatcher)(nil)

// Dispatcher queues notifications and hands them to a Sink from a fixed
// worker pool. Notify never blocks: when the queue is full the notification
// is dropped and logged.
type Dispatcher struct {
	sink    Sink
	lg      *zap.Logger
	cfg     Config
	queue   chan notification.Notification
	results metric.Int64Counter

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker pool.
func NewDispatcher(sink Sink, lg *zap.Logger, meter metric.Meter, cfg Config) (*Dispatcher, error) {
	cfg.setDefaults()
	results, err := meter.Int64Counter("storefront.notifications",
		metric.WithDescription("Notifications by delivery result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create notifications counter")
	}

	d := &Dispatcher{
		sink:    sink,
		lg:      lg,
		cfg:     cfg,
		queue:   make(chan notification.Notification, cfg.Buffer),
		results: results,
	}
	for range cfg.Workers {
		d.wg.Add(1)
		go d.work()
	}
	return d, nil
}

// Notify implements notification.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, n notification.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.record(ctx, "closed")
		d.lg.Warn("Notification after shutdown dropped", zap.String("user_id", n.UserID), zap.String("kind", string(n.Kind)))
		return
	}

	select {
	case d.queue <- n:
	default:
		d.record(ctx, "dropped")
		d.lg.Warn("Notification queue full, dropping",
			zap.String("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
		)
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain notifications")
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.send(n)
	}
}

func (d *Dispatcher) send(n notification.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	if err := d.sink.Send(ctx, n); err != nil {
		d.record(ctx, "failed")
		d.lg.Warn("Notification delivery failed",
			zap.String("user_id", n.UserID),
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)
		return
	}
	d.record(ctx, "sent")
}

func (d *Dispatcher) record(ctx context.Context, result string) {
	d.results.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
