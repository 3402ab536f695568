package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// StatusCache drops cached booking views whenever a booking transitions.
// Invalidate leaves a short-lived empty tombstone and Set only fills an
// absent key, so a reader that loaded the row before a transition cannot
// put its stale view back.
type StatusCache struct {
	rdb redis.Cmdable
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) Get(ctx context.Context, bookingID string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyBookingStatus, bookingID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) Set(ctx context.Context, bookingID string, body []byte) error {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeyBookingStatus, bookingID), body, TTLStatusCache).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, bookingID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyBookingStatus, bookingID), "", TTLStatusTombstone).Err()
}

// Idempotency maps client idempotency keys to the booking they created.
type Idempotency struct {
	rdb redis.Cmdable
}

func NewIdempotency(rdb redis.Cmdable) *Idempotency {
	return &Idempotency{rdb: rdb}
}

// Lookup returns the booking id stored for key, or "" when none.
func (i *Idempotency) Lookup(ctx context.Context, userID, key string) (string, error) {
	id, err := i.rdb.Get(ctx, fmt.Sprintf(KeyIdemBookingRequest, userID, key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return id, err
}

func (i *Idempotency) Remember(ctx context.Context, userID, key, bookingID string) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemBookingRequest, userID, key), bookingID, TTLIdempotency).Err()
}

// Dedup claims an event id for a consumer. It returns false when the event
// was already claimed.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", TTLDedup).Result()
}

func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, eventID)).Err()
}
