//go:build !integration

package postgres

import (
	"context"
	"time"

	"prospect-engine/internal/domain/ports/adapter"
	red "prospect-engine/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerContextStore mocks the database store that the context decorator wraps.
type mockInnerContextStore struct {
	GetFunc     func(ctx context.Context, userID string) (*adapter.BusinessContext, error)
	SaveFunc    func(ctx context.Context, bc *adapter.BusinessContext) error
	VersionFunc func(ctx context.Context, userID string) (time.Time, error)
}

func (m *mockInnerContextStore) Get(ctx context.Context, userID string) (*adapter.BusinessContext, error) {
	return m.GetFunc(ctx, userID)
}
func (m *mockInnerContextStore) Save(ctx context.Context, bc *adapter.BusinessContext) error {
	return m.SaveFunc(ctx, bc)
}
func (m *mockInnerContextStore) Version(ctx context.Context, userID string) (time.Time, error) {
	return m.VersionFunc(ctx, userID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
