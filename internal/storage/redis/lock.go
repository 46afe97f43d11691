package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/analytics"
)

var _ analytics.Locker = (*Locker)(nil)

// releaseScript deletes the lock only if it still carries our token, so an
// expired holder cannot release a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance Redis lock built on SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker whose keys are prefixed with "lock:".
func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

// TryLock implements analytics.Locker.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, errors.Wrap(err, "redis setnx")
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
	}
	return unlock, true, nil
}

// Client opens a Redis client from a redis:// URL and checks connectivity.
func Client(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}
