package redisx

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRedis covers the handful of commands the stores issue. TTLs are
// recorded, not enforced.
type memRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	vals map[string]string
	ttls map[string]time.Duration
}

func newMemRedis() *memRedis {
	return &memRedis{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = toString(value)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.vals[key] = toString(value)
	m.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (m *memRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.vals[k]; ok {
			delete(m.vals, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// expire simulates the key's TTL running out.
func (m *memRedis) expire(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
}

func toString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func TestStatusCache(t *testing.T) {
	ctx := context.Background()
	key := fmt.Sprintf(KeyBookingStatus, "bk-1")

	t.Run("Given a cached view When read Then hit", func(t *testing.T) {
		c := NewStatusCache(newMemRedis())
		require.NoError(t, c.Set(ctx, "bk-1", []byte(`{"status":"pending"}`)))

		got, ok := c.Get(ctx, "bk-1")
		require.True(t, ok)
		assert.JSONEq(t, `{"status":"pending"}`, string(got))
	})

	t.Run("Given a reader that loaded before a transition When it writes back after the invalidation Then the stale view is not served", func(t *testing.T) {
		rdb := newMemRedis()
		c := NewStatusCache(rdb)

		_, ok := c.Get(ctx, "bk-1")
		require.False(t, ok)
		stale := []byte(`{"status":"pending"}`)

		require.NoError(t, c.Invalidate(ctx, "bk-1"))
		require.NoError(t, c.Set(ctx, "bk-1", stale))

		_, ok = c.Get(ctx, "bk-1")
		assert.False(t, ok)
		assert.Equal(t, TTLStatusTombstone, rdb.ttls[key])
	})

	t.Run("Given an expired tombstone When a fresh view is written Then it is served", func(t *testing.T) {
		rdb := newMemRedis()
		c := NewStatusCache(rdb)
		require.NoError(t, c.Invalidate(ctx, "bk-1"))
		rdb.expire(key)

		require.NoError(t, c.Set(ctx, "bk-1", []byte(`{"status":"confirmed"}`)))
		got, ok := c.Get(ctx, "bk-1")
		require.True(t, ok)
		assert.JSONEq(t, `{"status":"confirmed"}`, string(got))
		assert.Equal(t, TTLStatusCache, rdb.ttls[key])
	})
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	d := NewDedup(newMemRedis(), "notifier")

	first, err := d.Claim(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Claim(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, d.Forget(ctx, "ev-1"))
	retry, err := d.Claim(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestIdempotency(t *testing.T) {
	ctx := context.Background()
	i := NewIdempotency(newMemRedis())

	id, err := i.Lookup(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, i.Remember(ctx, "u1", "k1", "bk-1"))
	id, err = i.Lookup(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "bk-1", id)

	id, _ = i.Lookup(ctx, "u2", "k1")
	assert.Empty(t, id)
}
