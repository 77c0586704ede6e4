package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

// QuotaLedger is the only authority on whether a user may consume capacity.
// Period resets happen lazily on read, as a conditional update keyed on the
// previous reset timestamp.
type QuotaLedger struct {
	users        repository.UserRepository
	loc          *time.Location
	batchCeiling int
	now          func() time.Time
	log          *zerolog.Logger
}

func NewQuotaLedger(users repository.UserRepository, loc *time.Location, batchCeiling int, logger *zerolog.Logger) *QuotaLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &QuotaLedger{
		users:        users,
		loc:          loc,
		batchCeiling: batchCeiling,
		now:          time.Now,
		log:          logging.Component(logger, "QuotaLedger"),
	}
}

// remainingFor never goes below zero.
func remainingFor(plan model.Plan, used int64) int64 {
	if plan.IsUnbounded() {
		return model.UnboundedRemaining
	}
	if left := plan.Quota - used; left > 0 {
		return left
	}
	return 0
}

// ResetIfDue zeroes the consumed allowance when a period boundary was crossed
// since quota_reset_at. Calling it twice in one period is a no-op the second time.
func (l *QuotaLedger) ResetIfDue(ctx context.Context, tx repository.Tx, u *model.User) (*model.User, error) {
	plan, err := model.LookupPlan(u.PlanID)
	if err != nil {
		return nil, fmt.Errorf("user %s plan %q: %w", u.ID, u.PlanID, err)
	}
	now := l.now()
	if !model.PeriodCrossed(plan.Period, u.QuotaResetAt, now, l.loc) {
		return u, nil
	}

	ok, err := l.users.ResetQuota(ctx, tx, u.ID, u.QuotaResetAt, now)
	if err != nil {
		return nil, fmt.Errorf("reset quota: %w", err)
	}
	if !ok {
		// Another request reset first; take its result.
		return l.users.FindByID(ctx, tx, u.ID)
	}
	l.log.Debug().Str("user_id", u.ID).Str("period", string(plan.Period)).Msg("quota period reset")
	out := *u
	out.QuotaUsed = 0
	out.QuotaResetAt = now
	return &out, nil
}

// Remaining applies a lazy reset and returns the allowance left in the period.
func (l *QuotaLedger) Remaining(ctx context.Context, tx repository.Tx, u *model.User) (int64, *model.User, error) {
	cur, err := l.ResetIfDue(ctx, tx, u)
	if err != nil {
		return 0, nil, err
	}
	plan, _ := model.LookupPlan(cur.PlanID)
	return remainingFor(plan, cur.QuotaUsed), cur, nil
}

// Consume adds n to the used allowance. It does not re-validate against the
// remaining allowance; admission has already done that.
func (l *QuotaLedger) Consume(ctx context.Context, tx repository.Tx, u *model.User, n int64) (*model.User, error) {
	cur, err := l.ResetIfDue(ctx, tx, u)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return cur, nil
	}
	if err := l.users.AddQuotaUsed(ctx, tx, cur.ID, n); err != nil {
		return nil, fmt.Errorf("consume quota: %w", err)
	}
	metrics.AddQuotaConsumed(string(cur.PlanID), n)
	out := *cur
	out.QuotaUsed += n
	return &out, nil
}

// MaxBatch bounds a single run by the remaining allowance and the system-wide ceiling.
func (l *QuotaLedger) MaxBatch(ctx context.Context, tx repository.Tx, u *model.User) (int, error) {
	remaining, _, err := l.Remaining(ctx, tx, u)
	if err != nil {
		return 0, err
	}
	if remaining < int64(l.batchCeiling) {
		return int(remaining), nil
	}
	return l.batchCeiling, nil
}

// Snapshot loads the user, applies a lazy reset and describes the quota state.
func (l *QuotaLedger) Snapshot(ctx context.Context, userID string) (*model.QuotaSnapshot, error) {
	defer logging.TraceDuration(l.log, "QuotaLedger.Snapshot")()

	u, err := l.users.FindByID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	cur, err := l.ResetIfDue(ctx, nil, u)
	if err != nil {
		return nil, err
	}
	return l.SnapshotOf(cur), nil
}

// SnapshotOf describes u without touching storage.
func (l *QuotaLedger) SnapshotOf(u *model.User) *model.QuotaSnapshot {
	plan, _ := model.LookupPlan(u.PlanID)
	now := l.now()
	s := &model.QuotaSnapshot{
		PlanID:         plan.ID,
		TotalQuota:     plan.Quota,
		UsedQuota:      u.QuotaUsed,
		RemainingQuota: remainingFor(plan, u.QuotaUsed),
		Unbounded:      plan.IsUnbounded(),
		ResetPeriod:    plan.Period,
		NextResetAt:    model.NextReset(plan.Period, now, l.loc),
	}
	if !plan.IsUnbounded() && plan.Quota > 0 {
		pct := float64(u.QuotaUsed) / float64(plan.Quota) * 100
		if pct > 100 {
			pct = 100
		}
		s.UsagePercentage = pct
	}
	if u.CooldownRemaining(now) > 0 {
		until := *u.CooldownUntil
		s.CooldownUntil = &until
	}
	return s
}
