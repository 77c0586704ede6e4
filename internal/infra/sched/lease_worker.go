package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/redis"
)

const leaseLockKey = "lock:lease_reaper"

// Reaper fails jobs that outlived their lease.
type Reaper interface {
	Reap(ctx context.Context) (int, error)
}

// LeaseWorker periodically runs the reaper. Replicas share a redis lock so
// a sweep runs on one instance at a time.
type LeaseWorker struct {
	interval time.Duration
	reaper   Reaper
	locker   redis.Locker
	log      *zerolog.Logger
}

func NewLeaseWorker(interval time.Duration, reaper Reaper, locker redis.Locker, logger *zerolog.Logger) *LeaseWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &LeaseWorker{
		interval: interval,
		reaper:   reaper,
		locker:   locker,
		log:      logging.Component(logger, "LeaseWorker"),
	}
}

func (w *LeaseWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("lease worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("lease worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *LeaseWorker) tick(ctx context.Context) {
	sweep := func(ctx context.Context) error {
		n, err := w.reaper.Reap(ctx)
		w.log.Debug().Int("failed", n).Msg("lease sweep finished")
		return err
	}

	var err error
	if w.locker == nil {
		err = sweep(ctx)
	} else {
		err = redis.WithLock(ctx, w.locker, leaseLockKey, w.interval, sweep)
	}
	switch {
	case err == nil, errors.Is(err, domain.ErrLockNotAcquired):
	case errors.Is(err, context.Canceled):
	default:
		w.log.Error().Err(err).Msg("lease sweep error")
	}
}
