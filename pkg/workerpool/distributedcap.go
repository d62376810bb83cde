package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nuulab/gjs/internal/gjserr"
)

// DistributedCap is the cross-process counterpart to Pool.Cap: an
// operator running more than one pool process against the same Gearman
// servers can share one instance budget across all of them. Acquire is a
// bounded INCR-then-check, Release a Lua script that only ever
// decrements, so a crashed holder's slot still expires via the key's TTL
// instead of leaking forever.
type DistributedCap struct {
	client  *redis.Client
	key     string
	limit   int64
	slotTTL time.Duration
}

// NewDistributedCap builds a DistributedCap over client, sharing limit
// instance slots across every pool process that uses the same key.
func NewDistributedCap(client *redis.Client, key string, limit int64) *DistributedCap {
	return &DistributedCap{client: client, key: key, limit: limit, slotTTL: time.Minute}
}

// WithSlotTTL overrides how long an unreleased slot survives before it is
// reclaimed, bounding the damage a process that dies without calling
// Release can do.
func (d *DistributedCap) WithSlotTTL(ttl time.Duration) *DistributedCap {
	d.slotTTL = ttl
	return d
}

// Slot is one held unit of the shared budget.
type Slot struct {
	cap      *DistributedCap
	released bool
}

// Acquire attempts to claim one instance slot. It fails with
// PoolCapacityExceeded if the shared budget is already exhausted.
func (d *DistributedCap) Acquire(ctx context.Context) (*Slot, error) {
	n, err := d.client.Incr(ctx, d.key).Result()
	if err != nil {
		return nil, gjserr.New(gjserr.QueueError, err)
	}
	if n == 1 {
		// First holder sets the TTL so an abandoned counter eventually
		// resets instead of wedging the budget shut forever.
		_ = d.client.Expire(ctx, d.key, d.slotTTL).Err()
	}
	if n > d.limit {
		_, _ = d.client.Decr(ctx, d.key).Result()
		return nil, gjserr.Newf(gjserr.PoolCapacityExceeded,
			"workerpool: distributed cap %q exhausted (limit %d)", d.key, d.limit)
	}
	return &Slot{cap: d}, nil
}

// Release gives back a held slot. Calling Release more than once is a
// no-op.
func (s *Slot) Release(ctx context.Context) error {
	if s.released {
		return nil
	}
	s.released = true

	script := redis.NewScript(`
		local n = redis.call("decr", KEYS[1])
		if n < 0 then
			redis.call("set", KEYS[1], 0)
		end
		return n
	`)
	if err := script.Run(ctx, s.cap.client, []string{s.cap.key}).Err(); err != nil {
		return gjserr.New(gjserr.QueueError, fmt.Errorf("workerpool: release distributed cap slot: %w", err))
	}
	return nil
}
