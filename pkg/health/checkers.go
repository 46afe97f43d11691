package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the result of p.Ping.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// Closer is implemented by *amqp091.Connection.
type Closer interface {
	IsClosed() bool
}

// OpenCheck fails once the connection has been closed.
func OpenCheck(c Closer) CheckFunc {
	return func(context.Context) error {
		if c.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
