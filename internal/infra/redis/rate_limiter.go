package redis

import (
	"context"
	"strconv"
	"time"
)

// RateLimiter counts hits per key in windows aligned to the clock. Each window
// gets its own counter key, so a counter whose EXPIRE was lost still stops
// counting once its window has passed.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow records a hit on key and reports whether it is within limit for the
// current window. A limit below one allows nothing.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if window <= 0 {
		window = time.Minute
	}
	bucket := windowKey(key, r.now(), window)

	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, err
	}
	if count == 1 {
		// Outlive the window a little so a slow clock on another instance
		// still finds the counter.
		if err := r.client.Expire(ctx, bucket, window+window/2); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}

func windowKey(key string, now time.Time, window time.Duration) string {
	return key + ":" + strconv.FormatInt(now.UnixNano()/int64(window), 10)
}

// AdmissionKey is the per-user key for start requests.
func AdmissionKey(userID string) string {
	return "rate_limit:start:" + userID
}
