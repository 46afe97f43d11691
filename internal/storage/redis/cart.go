// Package redis holds the Redis-backed cart cache and the distributed lock
// used by the analytics scheduler.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/cart"
)

var _ cart.Cache = (*CartCache)(nil)

// fillScript stores the snapshot only while the version key still holds the
// version the caller read before loading the repository.
var fillScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1]) or "0"
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1
`)

// CartCache caches cart snapshots as JSON under cart:{<user id>} and counts
// invalidations under cart:{<user id>}:version. Both keys share a hash slot.
type CartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewCartCache creates a CartCache. Entries live for ttl plus up to a fifth
// of it in jitter so that carts cached together do not expire together.
func NewCartCache(client redis.UniversalClient, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CartCache{client: client, baseTTL: ttl}
}

func (c *CartCache) Get(ctx context.Context, userID string) ([]cart.Line, error) {
	data, err := c.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cart.ErrCacheMiss
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}

	var lines []cart.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, errors.Wrap(err, "unmarshal cart")
	}
	return lines, nil
}

// Version implements cart.Cache. A user that was never invalidated is at
// version zero.
func (c *CartCache) Version(ctx context.Context, userID string) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "redis get version")
	}
	return v, nil
}

// Set implements cart.Cache.
func (c *CartCache) Set(ctx context.Context, userID string, version int64, lines []cart.Line) error {
	if lines == nil {
		lines = []cart.Line{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return errors.Wrap(err, "marshal cart")
	}

	ttl := c.baseTTL + rand.N(c.baseTTL/5+1)
	keys := []string{versionKey(userID), cartKey(userID)}
	if err := fillScript.Run(ctx, c.client, keys, version, data, ttl.Milliseconds()).Err(); err != nil {
		return errors.Wrap(err, "redis fill")
	}
	return nil
}

// Delete implements cart.Cache. The version key outlives any snapshot so a
// fill that started before the invalidation always sees it.
func (c *CartCache) Delete(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, cartKey(userID))
		p.Incr(ctx, versionKey(userID))
		p.Expire(ctx, versionKey(userID), 2*c.baseTTL)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis invalidate")
	}
	return nil
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:{%s}", userID)
}

func versionKey(userID string) string {
	return fmt.Sprintf("cart:{%s}:version", userID)
}
