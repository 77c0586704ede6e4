package repository

import (
	"context"
	"time"

	"prospect-engine/internal/domain/model"
)

// UserRepository persists the quota and job fields of a user row. All
// mutations are single conditional updates; the bool result reports whether
// the condition held and the row changed.
type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)

	// ResetQuota zeroes quota_used and stamps quota_reset_at=now only while
	// quota_reset_at still equals prevResetAt.
	ResetQuota(ctx context.Context, tx Tx, userID string, prevResetAt, now time.Time) (bool, error)
	AddQuotaUsed(ctx context.Context, tx Tx, userID string, n int64) error

	// ClaimActiveJob sets active_job_id where it is currently null.
	ClaimActiveJob(ctx context.Context, tx Tx, userID, jobID string, now time.Time) (bool, error)
	// ReleaseActiveJob clears active_job_id where it still equals jobID.
	ReleaseActiveJob(ctx context.Context, tx Tx, userID, jobID string) (bool, error)
	SetCooldown(ctx context.Context, tx Tx, userID string, until *time.Time) error
}
