package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

// RejectedError carries a Rejection through the error return.
type RejectedError struct {
	model.Rejection
}

func (e *RejectedError) Error() string {
	if e.CooldownRemaining > 0 {
		return fmt.Sprintf("admission rejected: %s (%s remaining)", e.Reason, e.CooldownRemaining.Round(time.Second))
	}
	return "admission rejected: " + string(e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == domain.ErrAdmissionRejected }

func (e *RejectedError) Unwrap() error { return e.Reason.Sentinel() }

func reject(reason model.RejectReason, cooldown time.Duration) error {
	return &RejectedError{model.Rejection{Reason: reason, CooldownRemaining: cooldown}}
}

// AsRejection extracts the rejection from err, if it is one.
func AsRejection(err error) (*model.Rejection, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return &re.Rejection, true
	}
	return nil, false
}

// AdmissionController decides whether a user may start a prospecting run and,
// on acceptance, records the run as the user's single active job.
type AdmissionController struct {
	users      repository.UserRepository
	jobs       repository.JobRepository
	contexts   adapter.ContextProvider
	ledger     *QuotaLedger
	dispatcher *Dispatcher
	tm         repository.TransactionManager
	notifier   adapter.Notifier
	now        func() time.Time
	log        *zerolog.Logger
}

func NewAdmissionController(
	users repository.UserRepository,
	jobs repository.JobRepository,
	contexts adapter.ContextProvider,
	ledger *QuotaLedger,
	dispatcher *Dispatcher,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *AdmissionController {
	return &AdmissionController{
		users:      users,
		jobs:       jobs,
		contexts:   contexts,
		ledger:     ledger,
		dispatcher: dispatcher,
		tm:         tm,
		notifier:   notifier,
		now:        time.Now,
		log:        logging.Component(logger, "AdmissionController"),
	}
}

// TryStart runs the admission checks in order and stops at the first
// rejection. The only write is the conditional claim of the active job marker,
// made in the same transaction that enqueues the job.
func (a *AdmissionController) TryStart(ctx context.Context, userID string) (*model.Admission, error) {
	defer logging.TraceDuration(a.log, "AdmissionController.TryStart")()
	ctx = logging.WithUserID(ctx, userID)
	l := logging.With(ctx, a.log)

	u, err := a.users.FindByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	bc, err := a.contexts.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load business context: %w", err)
	}
	if err != nil || !bc.Ready() {
		return nil, a.rejected(l, model.RejectContextIncomplete, 0)
	}

	if u.HasActiveJob() {
		running, err := a.activeJobRunning(ctx, u)
		if err != nil {
			return nil, err
		}
		if running {
			return nil, a.rejected(l, model.RejectJobRunning, 0)
		}
		u.ActiveJobID = nil
		u.ActiveJobAt = nil
	}

	remaining, u, err := a.ledger.Remaining(ctx, nil, u)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		return nil, a.rejected(l, model.RejectQuotaExhausted, 0)
	}

	plan, err := model.LookupPlan(u.PlanID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if !plan.IsUnbounded() {
		if left := u.CooldownRemaining(now); left > 0 {
			return nil, a.rejected(l, model.RejectCooldownActive, left)
		}
	}

	maxLeads, err := a.ledger.MaxBatch(ctx, nil, u)
	if err != nil {
		return nil, err
	}
	job := a.dispatcher.Prepare(userID, bc, maxLeads)

	err = a.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := a.dispatcher.Enqueue(ctx, tx, job); err != nil {
			return err
		}
		claimed, err := a.users.ClaimActiveJob(ctx, tx, userID, job.ID, now)
		if err != nil {
			return fmt.Errorf("claim active job: %w", err)
		}
		if !claimed {
			return domain.ErrJobAlreadyRunning
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyRunning) {
			// A concurrent attempt won the claim; the enqueue rolled back with it.
			return nil, a.rejected(l, model.RejectJobRunning, 0)
		}
		return nil, fmt.Errorf("admit job: %w", err)
	}

	a.dispatcher.Wake()
	metrics.IncAdmission("accepted", "")
	l.Info().Str("job_id", job.ID).Int("max_leads", maxLeads).Int("max_sites", job.MaxSites).Msg("admission accepted")
	notify(ctx, a.notifier, userID, model.NotifyJobProgress, JobProgressPayload{
		JobID:    job.ID,
		Stage:    "queued",
		MaxLeads: maxLeads,
	}, now)

	return &model.Admission{JobID: job.ID, MaxLeads: maxLeads, MaxSites: job.MaxSites}, nil
}

// activeJobRunning checks the job behind the user's marker. A missing or
// terminal job means cleanup was lost; the marker is released so admission
// can proceed.
func (a *AdmissionController) activeJobRunning(ctx context.Context, u *model.User) (bool, error) {
	jobID := *u.ActiveJobID
	job, err := a.jobs.FindByID(ctx, nil, jobID)
	switch {
	case err == nil && !job.Status.IsTerminal():
		return true, nil
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return false, fmt.Errorf("load active job: %w", err)
	}

	if _, err := a.users.ReleaseActiveJob(ctx, nil, u.ID, jobID); err != nil {
		return false, fmt.Errorf("release stale marker: %w", err)
	}
	metrics.IncStaleMarkerCleared("admission")
	a.log.Info().Str("user_id", u.ID).Str("job_id", jobID).Msg("cleared stale active job marker")
	return false, nil
}

func (a *AdmissionController) rejected(l *zerolog.Logger, reason model.RejectReason, cooldown time.Duration) error {
	metrics.IncAdmission("rejected", string(reason))
	ev := l.Debug().Str("reason", string(reason))
	if cooldown > 0 {
		ev = ev.Dur("cooldown_remaining", cooldown)
	}
	ev.Msg("admission rejected")
	return reject(reason, cooldown)
}
