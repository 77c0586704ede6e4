package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/infra/metrics"
	red "prospect-engine/internal/infra/redis"
)

var _ BusinessContextStore = (*contextCacheDecorator)(nil)

// contextCacheDecorator keeps recently read business contexts in redis. An
// entry is served only while its updated_at still matches the row, so a brief
// edited by the CRUD side is seen on the very next read.
type contextCacheDecorator struct {
	inner BusinessContextStore
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewContextCacheDecorator(inner BusinessContextStore, cache red.RedisClient, ttl time.Duration, log *zerolog.Logger) BusinessContextStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &contextCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: log}
}

func contextKey(userID string) string { return fmt.Sprintf("bctx:%s", userID) }

type cachedContext struct {
	Data      json.RawMessage `json:"data"`
	Missing   []string        `json:"missing,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (d *contextCacheDecorator) Get(ctx context.Context, userID string) (*adapter.BusinessContext, error) {
	version, err := d.inner.Version(ctx, userID)
	if err != nil {
		return nil, err
	}

	key := contextKey(userID)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var c cachedContext
		if json.Unmarshal([]byte(val), &c) == nil && c.UpdatedAt.Equal(version) {
			metrics.IncCacheRequest("business_context", "hit")
			return &adapter.BusinessContext{UserID: userID, Data: c.Data, Missing: c.Missing, UpdatedAt: c.UpdatedAt}, nil
		}
	} else if err != redis.Nil {
		metrics.IncCacheRequest("business_context", "error")
		d.log.Warn().Err(err).Str("key", key).Msg("business context cache read failed")
	}

	metrics.IncCacheRequest("business_context", "miss")
	bc, err := d.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(cachedContext{Data: bc.Data, Missing: bc.Missing, UpdatedAt: bc.UpdatedAt}); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return bc, nil
}

func (d *contextCacheDecorator) Version(ctx context.Context, userID string) (time.Time, error) {
	return d.inner.Version(ctx, userID)
}

// Save drops the cached entry, then writes through.
func (d *contextCacheDecorator) Save(ctx context.Context, bc *adapter.BusinessContext) error {
	_ = d.cache.Del(ctx, contextKey(bc.UserID))
	return d.inner.Save(ctx, bc)
}
