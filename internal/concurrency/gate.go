// Package concurrency implements the Concurrency Gate: a per-campaign
// Redis counter bounding how many calls a campaign may have in flight at
// once.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Gate coordinates campaign-level call concurrency using a Redis
// counter per campaign. Unlike a plain GET-then-INCR check, the
// acquire script always increments first and rolls back with a DECR if
// the post-increment value exceeds the limit. The script runs atomically
// in Redis, so concurrent acquires never admit more than limit callers
// and never observe a stale value.
type Gate struct {
	client *redis.Client
	ttl    time.Duration

	acquireScript *redis.Script
	releaseScript *redis.Script
}

// New constructs a concurrency gate. ttl bounds how long a slot can be
// held without being released, so a worker crash does not permanently
// wedge a campaign's capacity.
func New(client *redis.Client, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{
		client: client,
		ttl:    ttl,
		acquireScript: redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl_ms = tonumber(ARGV[2])
local current = redis.call('INCR', key)
if ttl_ms > 0 then
  redis.call('PEXPIRE', key, ttl_ms)
end
if current > limit then
  redis.call('DECR', key)
  return 0
end
return 1
`),
		releaseScript: redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`),
	}
}

// Acquire attempts to reserve one of limit concurrent slots for
// campaignID. A limit <= 0 disables the gate (always admits).
func (g *Gate) Acquire(ctx context.Context, campaignID uuid.UUID, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := g.acquireScript.Run(ctx, g.client, []string{g.key(campaignID)}, limit, g.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency gate: acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot. Safe to call even if no
// slot was held; the counter never goes negative.
func (g *Gate) Release(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := g.releaseScript.Run(ctx, g.client, []string{g.key(campaignID)}).Int(); err != nil {
		return fmt.Errorf("concurrency gate: release: %w", err)
	}
	return nil
}

func (g *Gate) key(campaignID uuid.UUID) string {
	return fmt.Sprintf("outbound:concurrency:%s", campaignID.String())
}
