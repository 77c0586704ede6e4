package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterClient is an in-memory RedisClient covering the calls the limiter makes.
type counterClient struct {
	counts  map[string]int64
	expires map[string]time.Duration
	incrErr error
}

func newCounterClient() *counterClient {
	return &counterClient{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (c *counterClient) Ping(context.Context) error { return nil }
func (c *counterClient) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}
func (c *counterClient) Get(context.Context, string) (string, error) { return "", nil }
func (c *counterClient) Incr(_ context.Context, key string) (int64, error) {
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	c.counts[key]++
	return c.counts[key], nil
}
func (c *counterClient) Expire(_ context.Context, key string, d time.Duration) error {
	c.expires[key] = d
	return nil
}
func (c *counterClient) Del(context.Context, ...string) error { return nil }
func (c *counterClient) Close() error                         { return nil }

func TestRateLimiter_Allow(t *testing.T) {
	cli := newCounterClient()
	rl := NewRateLimiter(cli)
	now := time.Date(2026, 3, 11, 10, 0, 5, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()
	key := AdmissionKey("u-1")
	assert.Equal(t, "rate_limit:start:u-1", key)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d within limit", i+1)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	bucket := windowKey(key, now, time.Minute)
	assert.Equal(t, int64(4), cli.counts[bucket])
	assert.Equal(t, 90*time.Second, cli.expires[bucket], "counter expires after the window")

	t.Run("next window starts fresh", func(t *testing.T) {
		now = now.Add(time.Minute)
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Len(t, cli.counts, 2)
	})
}

func TestRateLimiter_ZeroLimit(t *testing.T) {
	ok, err := NewRateLimiter(newCounterClient()).Allow(context.Background(), "k", 0, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiter_PropagatesErrors(t *testing.T) {
	cli := newCounterClient()
	cli.incrErr = errors.New("down")

	ok, err := NewRateLimiter(cli).Allow(context.Background(), "k", 1, time.Second)
	assert.Error(t, err)
	assert.False(t, ok)
}
