package repository

import (
	"context"
	"time"

	"prospect-engine/internal/domain/model"
)

type JobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Job, error)

	// FetchAndMarkDispatching atomically claims the oldest pending job so no
	// other worker picks it up.
	FetchAndMarkDispatching(ctx context.Context) (*model.Job, error)
	MarkRunning(ctx context.Context, tx Tx, id, externalID string, attempts int) error
	// Requeue returns a job that is still dispatching to pending. It returns
	// false when the job had already moved on.
	Requeue(ctx context.Context, tx Tx, id string) (bool, error)
	// Finish moves a non-terminal job to a terminal status. It returns false
	// when the job was already terminal.
	Finish(ctx context.Context, tx Tx, id string, status model.JobStatus, lastError string, leadsGenerated int, at time.Time) (bool, error)
	ListStale(ctx context.Context, tx Tx, startedBefore time.Time, limit int) ([]*model.Job, error)
}
