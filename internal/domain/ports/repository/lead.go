package repository

import (
	"context"

	"prospect-engine/internal/domain/model"
)

type LeadRepository interface {
	Upsert(ctx context.Context, tx Tx, lead *model.Lead) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Lead, error)
	CountByJob(ctx context.Context, tx Tx, jobID string) (int, error)
}
