package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

type DispatchConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	StartTimeout   time.Duration
	SitesPerLead   int
	MaxSitesCap    int
}

// Dispatcher turns admitted runs into queued jobs and, from a worker, starts
// them on the external pipeline. Only the start call is retried; after the
// pipeline acknowledges, the event stream owns the job.
type Dispatcher struct {
	jobs     repository.JobRepository
	users    repository.UserRepository
	pipeline adapter.PipelineClient
	notifier adapter.Notifier
	final    *jobFinalizer
	cfg      DispatchConfig
	wake     chan struct{}
	now      func() time.Time
	log      *zerolog.Logger
}

func NewDispatcher(
	jobs repository.JobRepository,
	users repository.UserRepository,
	pipeline adapter.PipelineClient,
	notifier adapter.Notifier,
	tm repository.TransactionManager,
	cfg DispatchConfig,
	logger *zerolog.Logger,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Minute
	}
	if cfg.SitesPerLead <= 0 {
		cfg.SitesPerLead = 2
	}
	if cfg.MaxSitesCap <= 0 {
		cfg.MaxSitesCap = 100
	}
	log := logging.Component(logger, "Dispatcher")
	d := &Dispatcher{
		jobs:     jobs,
		users:    users,
		pipeline: pipeline,
		notifier: notifier,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		log:      log,
	}
	d.final = &jobFinalizer{jobs: jobs, users: users, tm: tm, notifier: notifier, now: func() time.Time { return d.now() }, log: log}
	return d
}

// Prepare builds the job for an admitted run. The business context is copied
// here and never re-read.
func (d *Dispatcher) Prepare(userID string, bc *adapter.BusinessContext, maxLeads int) *model.Job {
	sites := maxLeads * d.cfg.SitesPerLead
	if sites > d.cfg.MaxSitesCap {
		sites = d.cfg.MaxSitesCap
	}
	snapshot := append([]byte(nil), bc.Data...)
	return model.NewJob(userID, snapshot, sites, maxLeads, d.now())
}

// Enqueue persists job as pending inside the caller's transaction.
func (d *Dispatcher) Enqueue(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if err := d.jobs.Create(ctx, tx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Wake nudges the processor after a commit so it does not wait for its next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) Wakeups() <-chan struct{} { return d.wake }

// ActiveJob returns the job referenced by the user's marker, if any.
func (d *Dispatcher) ActiveJob(ctx context.Context, u *model.User) (*model.Job, error) {
	if !u.HasActiveJob() {
		return nil, domain.ErrNotFound
	}
	return d.jobs.FindByID(ctx, nil, *u.ActiveJobID)
}

// ActiveJobFor loads the user first. ErrUserNotFound and ErrNotFound are distinct.
func (d *Dispatcher) ActiveJobFor(ctx context.Context, userID string) (*model.Job, error) {
	u, err := d.users.FindByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return d.ActiveJob(ctx, u)
}

// ProcessNext claims one pending job and dispatches it. It reports false when
// the queue was empty.
func (d *Dispatcher) ProcessNext(ctx context.Context) (bool, error) {
	job, err := d.jobs.FetchAndMarkDispatching(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("fetch pending job: %w", err)
	}

	ctx = logging.WithJobID(logging.WithUserID(ctx, job.UserID), job.ID)
	l := logging.With(ctx, d.log)
	l.Info().Int("max_leads", job.MaxLeads).Int("max_sites", job.MaxSites).Msg("dispatching job")

	start := d.now()
	resp, attempts, err := d.start(ctx, job)
	// Bookkeeping outlives a shutdown signal that lands mid-dispatch.
	rctx := context.WithoutCancel(ctx)
	if err != nil {
		if ctx.Err() != nil {
			l.Warn().Err(err).Int("attempts", attempts).Msg("dispatch interrupted, returning job to queue")
			if _, rerr := d.jobs.Requeue(rctx, nil, job.ID); rerr != nil {
				return true, fmt.Errorf("requeue interrupted job: %w", rerr)
			}
			return true, nil
		}
		reason := err.Error()
		l.Error().Err(err).Int("attempts", attempts).Msg("pipeline start failed")
		if _, ferr := d.final.fail(rctx, job, reason); ferr != nil {
			return true, fmt.Errorf("record dispatch failure: %w", ferr)
		}
		return true, nil
	}
	metrics.ObserveDispatchLatency(d.now().Sub(start))

	if err := d.jobs.MarkRunning(rctx, nil, job.ID, resp.JobID, attempts); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A terminal event beat the acknowledgment.
			l.Debug().Str("external_job_id", resp.JobID).Msg("job finished before start was acknowledged")
			return true, nil
		}
		// The pipeline runs anyway; its events still resolve through the
		// user's active marker.
		l.Error().Err(err).Str("external_job_id", resp.JobID).Msg("could not record external job handle")
	}
	l.Info().Str("external_job_id", resp.JobID).Int("attempts", attempts).Msg("pipeline acknowledged start")
	notify(rctx, d.notifier, job.UserID, model.NotifyJobProgress, JobProgressPayload{
		JobID:    job.ID,
		Stage:    "started",
		Status:   resp.Status,
		MaxLeads: job.MaxLeads,
	}, d.now())
	return true, nil
}

// start calls the pipeline with exponential backoff, at most MaxAttempts times.
func (d *Dispatcher) start(ctx context.Context, job *model.Job) (*adapter.StartJobResponse, int, error) {
	req := adapter.StartJobRequest{
		UserID:             job.UserID,
		BusinessContext:    job.BusinessContext,
		MaxSitesToScrape:   job.MaxSites,
		MaxLeadsToGenerate: job.MaxLeads,
		Timestamp:          d.now().UTC(),
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.InitialBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxAttempts-1)), ctx)

	attempts := 0
	var resp *adapter.StartJobResponse
	op := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.StartTimeout)
		defer cancel()
		r, err := d.pipeline.StartJob(callCtx, req)
		if err != nil {
			var perm *adapter.PermanentError
			if errors.As(err, &perm) {
				metrics.IncDispatchAttempt("permanent")
				return backoff.Permanent(err)
			}
			return err
		}
		if r == nil || r.JobID == "" {
			return backoff.Permanent(errors.New("pipeline acknowledged start without a job id"))
		}
		resp = r
		return nil
	}
	notifyRetry := func(err error, wait time.Duration) {
		metrics.IncDispatchAttempt("retry")
		d.log.Warn().Err(err).Str("job_id", job.ID).Int("attempt", attempts).Dur("backoff", wait).Msg("pipeline start attempt failed")
	}

	if err := backoff.RetryNotify(op, policy, notifyRetry); err != nil {
		if attempts >= d.cfg.MaxAttempts {
			metrics.IncDispatchAttempt("exhausted")
			return nil, attempts, fmt.Errorf("%w: %v", domain.ErrDispatchExhausted, err)
		}
		return nil, attempts, err
	}
	metrics.IncDispatchAttempt("ok")
	return resp, attempts, nil
}
