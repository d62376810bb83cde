// Package statuscache is an optional read-through mirror of job status
// and progress, backed by Redis. It is never the source of truth for a
// job's state — gearmand and the worker's own GET_STATUS replies are —
// it only lets QueueClient answer a status() query without a round trip
// to the owning server while a job is in flight.
package statuscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nuulab/gjs/internal/gjserr"
)

const defaultKeyPrefix = "gjs:status"

// defaultTTL bounds how long a finished job's mirror entry survives;
// gearmand itself is the durable record, this is a convenience cache.
const defaultTTL = 24 * time.Hour

// Progress is the mirrored state for one job handle.
type Progress struct {
	Handle      string    `json:"handle"`
	Numerator   int64     `json:"numerator"`
	Denominator int64     `json:"denominator"`
	Done        bool      `json:"done"`
	Failed      bool      `json:"failed"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cache is a Redis-backed status/progress mirror.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// New wraps an existing *redis.Client. Passing a nil client is invalid;
// callers that want the cache disabled should leave the *Cache pointer
// nil instead (every caller in this module treats a nil *Cache as "no
// cache configured").
func New(client *redis.Client) *Cache {
	return &Cache{client: client, keyPrefix: defaultKeyPrefix, ttl: defaultTTL}
}

// WithTTL overrides the default mirror entry lifetime.
func (c *Cache) WithTTL(ttl time.Duration) *Cache {
	c.ttl = ttl
	return c
}

func (c *Cache) key(handle string) string {
	return fmt.Sprintf("%s:%s", c.keyPrefix, handle)
}

// Start records that handle has begun running, with progress 0/0.
func (c *Cache) Start(ctx context.Context, handle string) error {
	now := time.Now()
	return c.save(ctx, Progress{Handle: handle, StartedAt: now, UpdatedAt: now})
}

// Report records a progress update's numerator/denominator pair.
func (c *Cache) Report(ctx context.Context, handle string, numerator, denominator int64) error {
	p, ok, err := c.Peek(ctx, handle)
	if err != nil {
		return err
	}
	if !ok {
		p = Progress{Handle: handle, StartedAt: time.Now()}
	}
	p.Numerator = numerator
	p.Denominator = denominator
	p.UpdatedAt = time.Now()
	return c.save(ctx, p)
}

// ReportProgress is the context-less form of Report, satisfying
// progress.CacheReporter for callers (worker loops) that don't thread a
// context through the progress-sink interface.
func (c *Cache) ReportProgress(handle string, numerator, denominator int64) error {
	return c.Report(context.Background(), handle, numerator, denominator)
}

// Finish marks handle as no longer running, successfully or not.
func (c *Cache) Finish(ctx context.Context, handle string, failed bool) error {
	p, ok, err := c.Peek(ctx, handle)
	if err != nil {
		return err
	}
	if !ok {
		p = Progress{Handle: handle, StartedAt: time.Now()}
	}
	p.Done = true
	p.Failed = failed
	p.UpdatedAt = time.Now()
	return c.save(ctx, p)
}

// Peek returns the mirrored progress for handle, if present.
func (c *Cache) Peek(ctx context.Context, handle string) (Progress, bool, error) {
	data, err := c.client.Get(ctx, c.key(handle)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Progress{}, false, nil
		}
		return Progress{}, false, gjserr.New(gjserr.QueueError, err).WithHandle(handle)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, false, gjserr.New(gjserr.CodecError, err).WithHandle(handle)
	}
	return p, true, nil
}

func (c *Cache) save(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return gjserr.New(gjserr.CodecError, err).WithHandle(p.Handle)
	}
	if err := c.client.Set(ctx, c.key(p.Handle), data, c.ttl).Err(); err != nil {
		return gjserr.New(gjserr.QueueError, err).WithHandle(p.Handle)
	}
	return nil
}
