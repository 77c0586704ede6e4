package model

import (
	"time"

	"prospect-engine/internal/domain"
)

// User carries the quota and job fields of an account. Everything else about
// the account lives with the CRUD collaborators.
type User struct {
	ID            string
	PlanID        PlanID
	QuotaUsed     int64
	QuotaResetAt  time.Time
	ActiveJobID   *string
	ActiveJobAt   *time.Time
	CooldownUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewUser(id string, plan PlanID, now time.Time) (*User, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument
	}
	if _, err := LookupPlan(plan); err != nil {
		return nil, err
	}
	return &User{
		ID:           id,
		PlanID:       plan,
		QuotaResetAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

func (u *User) HasActiveJob() bool { return u != nil && u.ActiveJobID != nil && *u.ActiveJobID != "" }

// CooldownRemaining is zero when no cooldown applies at now.
func (u *User) CooldownRemaining(now time.Time) time.Duration {
	if u == nil || u.CooldownUntil == nil || !u.CooldownUntil.After(now) {
		return 0
	}
	return u.CooldownUntil.Sub(now)
}
