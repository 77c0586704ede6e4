package sched

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"prospect-engine/internal/infra/metrics"
)

// PoolStatter is satisfied by *pgxpool.Pool.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

// RunPoolStats publishes connection pool gauges every interval until ctx ends.
func RunPoolStats(ctx context.Context, pool PoolStatter, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s := pool.Stat()
			metrics.SetDBPoolStats(metrics.DBPoolStats{
				Total:         s.TotalConns(),
				Idle:          s.IdleConns(),
				Acquired:      s.AcquiredConns(),
				Max:           s.MaxConns(),
				EmptyAcquires: s.EmptyAcquireCount(),
			})
		}
	}
}
