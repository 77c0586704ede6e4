package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Admission
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrJobAlreadyRunning = errors.New("a prospecting job is already running")
	ErrQuotaExhausted    = errors.New("quota exhausted for current period")
	ErrCooldownActive    = errors.New("cooldown is active")
	ErrContextIncomplete = errors.New("business context is incomplete")
	ErrRateLimited       = errors.New("too many requests")

	// Dispatch
	ErrDispatchExhausted = errors.New("pipeline start failed after retries")
	ErrQueueFull         = errors.New("worker queue full")

	// Events
	ErrMalformedEvent = errors.New("malformed pipeline event")
	ErrUnknownLead    = errors.New("event references an unknown lead")

	ErrLockNotAcquired = errors.New("lock not acquired")
)
