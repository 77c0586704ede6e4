package model

import (
	"time"

	"prospect-engine/internal/domain"
)

type RejectReason string

const (
	RejectContextIncomplete RejectReason = "context_incomplete"
	RejectJobRunning        RejectReason = "job_already_running"
	RejectQuotaExhausted    RejectReason = "quota_exhausted"
	RejectCooldownActive    RejectReason = "cooldown_active"
	RejectRateLimited       RejectReason = "rate_limited"
)

// Sentinel maps a reason to its domain error.
func (r RejectReason) Sentinel() error {
	switch r {
	case RejectContextIncomplete:
		return domain.ErrContextIncomplete
	case RejectJobRunning:
		return domain.ErrJobAlreadyRunning
	case RejectQuotaExhausted:
		return domain.ErrQuotaExhausted
	case RejectCooldownActive:
		return domain.ErrCooldownActive
	case RejectRateLimited:
		return domain.ErrRateLimited
	}
	return domain.ErrAdmissionRejected
}

// Rejection is an expected admission outcome, not a fault.
type Rejection struct {
	Reason            RejectReason
	CooldownRemaining time.Duration
}

// Admission describes an accepted run.
type Admission struct {
	JobID    string
	MaxLeads int
	MaxSites int
}
