package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/metrics"
)

// jobFinalizer moves a job to a terminal status and releases the user's
// active job marker in one transaction. Both steps are conditional, so a
// second terminal report for the same job changes nothing.
type jobFinalizer struct {
	jobs     repository.JobRepository
	users    repository.UserRepository
	tm       repository.TransactionManager
	notifier adapter.Notifier
	now      func() time.Time
	log      *zerolog.Logger
}

// fail marks job failed with reason and tells the user. It reports false when
// the job had already reached a terminal status.
func (f *jobFinalizer) fail(ctx context.Context, job *model.Job, reason string) (bool, error) {
	now := f.now()
	var finished bool
	err := f.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := f.jobs.Finish(ctx, tx, job.ID, model.JobStatusFailed, reason, 0, now)
		if err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		if !ok {
			return nil
		}
		finished = true
		if _, err := f.users.ReleaseActiveJob(ctx, tx, job.UserID, job.ID); err != nil {
			return fmt.Errorf("release active job: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if !finished {
		f.log.Debug().Str("job_id", job.ID).Msg("job already terminal, failure ignored")
		return false, nil
	}

	metrics.IncJobFinished(string(model.JobStatusFailed))
	f.log.Warn().Str("job_id", job.ID).Str("user_id", job.UserID).Str("reason", reason).Msg("job failed")
	notify(ctx, f.notifier, job.UserID, model.NotifyJobFailed, JobFailedPayload{JobID: job.ID, Error: reason}, now)
	return true, nil
}
