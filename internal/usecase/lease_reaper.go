package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

const reapBatch = 100

// LeaseReaper fails jobs that stayed non-terminal longer than the lease, so a
// lost pipeline does not block its user until the next admission attempt.
type LeaseReaper struct {
	jobs  repository.JobRepository
	final *jobFinalizer
	lease time.Duration
	now   func() time.Time
	log   *zerolog.Logger
}

func NewLeaseReaper(
	jobs repository.JobRepository,
	users repository.UserRepository,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	lease time.Duration,
	logger *zerolog.Logger,
) *LeaseReaper {
	log := logging.Component(logger, "LeaseReaper")
	r := &LeaseReaper{jobs: jobs, lease: lease, now: time.Now, log: log}
	r.final = &jobFinalizer{jobs: jobs, users: users, tm: tm, notifier: notifier, now: func() time.Time { return r.now() }, log: log}
	return r
}

// Reap fails up to one batch of expired jobs and returns how many it failed.
func (r *LeaseReaper) Reap(ctx context.Context) (int, error) {
	if r.lease <= 0 {
		return 0, nil
	}
	stale, err := r.jobs.ListStale(ctx, nil, r.now().Add(-r.lease), reapBatch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range stale {
		ok, err := r.final.fail(ctx, job, "active job lease expired")
		if err != nil {
			r.log.Error().Err(err).Str("job_id", job.ID).Msg("reap job")
			continue
		}
		if ok {
			n++
			metrics.IncStaleMarkerCleared("lease")
		}
	}
	if n > 0 {
		r.log.Info().Int("count", n).Dur("lease", r.lease).Msg("expired jobs failed")
	}
	return n, nil
}
