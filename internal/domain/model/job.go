package model

import (
	"crypto/rand"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDispatching JobStatus = "dispatching"
	JobStatusRunning     JobStatus = "running"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// IsTerminal reports whether no further work happens for the job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one prospecting run. BusinessContext is frozen at admission time and
// never re-read.
type Job struct {
	ID              string
	UserID          string
	Status          JobStatus
	ExternalJobID   string
	BusinessContext json.RawMessage
	MaxSites        int
	MaxLeads        int
	Attempts        int
	LastError       string
	LeadsGenerated  int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      *time.Time
}

// NewJobID returns a lexically sortable job id.
func NewJobID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0)).String()
}

func NewJob(userID string, snapshot json.RawMessage, maxSites, maxLeads int, now time.Time) *Job {
	return &Job{
		ID:              NewJobID(now),
		UserID:          userID,
		Status:          JobStatusPending,
		BusinessContext: snapshot,
		MaxSites:        maxSites,
		MaxLeads:        maxLeads,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
