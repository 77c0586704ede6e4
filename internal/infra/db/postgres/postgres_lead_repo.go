package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/repository"
)

var _ repository.LeadRepository = (*leadRepo)(nil)

type leadRepo struct {
	pool *pgxpool.Pool
}

func NewLeadRepo(pool *pgxpool.Pool) *leadRepo {
	return &leadRepo{pool: pool}
}

// Upsert writes the whole lead; a redelivered event rewrites the same values.
func (r *leadRepo) Upsert(ctx context.Context, tx repository.Tx, l *model.Lead) error {
	const q = `
INSERT INTO leads (id, user_id, job_id, company_name, website, status, processing_stage,
                   qualification_tier, relevance_score, roi_potential_score, persona,
                   pain_points, triggers, enrichment_payload, error_detail, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
  company_name=EXCLUDED.company_name,
  website=EXCLUDED.website,
  status=EXCLUDED.status,
  processing_stage=EXCLUDED.processing_stage,
  qualification_tier=EXCLUDED.qualification_tier,
  relevance_score=EXCLUDED.relevance_score,
  roi_potential_score=EXCLUDED.roi_potential_score,
  persona=EXCLUDED.persona,
  pain_points=EXCLUDED.pain_points,
  triggers=EXCLUDED.triggers,
  enrichment_payload=EXCLUDED.enrichment_payload,
  error_detail=EXCLUDED.error_detail,
  updated_at=EXCLUDED.updated_at
WHERE leads.user_id = EXCLUDED.user_id;`

	pain := l.PainPoints
	if pain == nil {
		pain = []string{}
	}
	triggers := l.Triggers
	if triggers == nil {
		triggers = []string{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		l.ID, l.UserID, l.JobID, l.CompanyName, l.Website, string(l.Status), string(l.ProcessingStage),
		l.QualificationTier, l.RelevanceScore, l.ROIPotentialScore, l.Persona,
		pain, triggers, jsonParam(l.EnrichmentPayload), l.ErrorDetail, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert lead: %w", err)
	}
	return nil
}

func (r *leadRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Lead, error) {
	const q = `
SELECT id, user_id, job_id, company_name, website, status, processing_stage,
       qualification_tier, relevance_score, roi_potential_score, persona,
       pain_points, triggers, enrichment_payload, error_detail, created_at, updated_at
  FROM leads WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		l             model.Lead
		status, stage string
		payload       []byte
	)
	err = row.Scan(&l.ID, &l.UserID, &l.JobID, &l.CompanyName, &l.Website, &status, &stage,
		&l.QualificationTier, &l.RelevanceScore, &l.ROIPotentialScore, &l.Persona,
		&l.PainPoints, &l.Triggers, &payload, &l.ErrorDetail, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	l.Status = model.LeadStatus(status)
	l.ProcessingStage = model.ProcessingStage(stage)
	l.EnrichmentPayload = payload
	if len(l.PainPoints) == 0 {
		l.PainPoints = nil
	}
	if len(l.Triggers) == 0 {
		l.Triggers = nil
	}
	return &l, nil
}

func (r *leadRepo) CountByJob(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM leads WHERE job_id=$1;`, jobID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}
