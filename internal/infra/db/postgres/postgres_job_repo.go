package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

// jobRepo stores prospect_jobs, which doubles as the durable dispatch queue.
type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `id, user_id, status, external_job_id, business_context, max_sites, max_leads,
       attempts, last_error, leads_generated, created_at, updated_at, finished_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	var (
		j      model.Job
		status string
		bc     []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &status, &j.ExternalJobID, &bc, &j.MaxSites, &j.MaxLeads,
		&j.Attempts, &j.LastError, &j.LeadsGenerated, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	j.Status = model.JobStatus(status)
	j.BusinessContext = bc
	return &j, nil
}

func (r *jobRepo) Create(ctx context.Context, tx repository.Tx, job *model.Job) error {
	const q = `
INSERT INTO prospect_jobs (id, user_id, status, external_job_id, business_context, max_sites, max_leads,
                           attempts, last_error, leads_generated, created_at, updated_at)
VALUES ($1,$2,$3,'',$4,$5,$6,0,'',0,$7,$7);`
	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.UserID, string(job.Status), jsonParam(job.BusinessContext), job.MaxSites, job.MaxLeads, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM prospect_jobs WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Job, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM prospect_jobs WHERE external_job_id=$1;`, externalID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) FetchAndMarkDispatching(ctx context.Context) (*model.Job, error) {
	var job *model.Job

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const fetchQuery = `
SELECT ` + jobColumns + `
FROM prospect_jobs
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED;`

		row, err := pickRow(ctx, r.pool, tx, fetchQuery)
		if err != nil {
			return err
		}
		fetched, err := scanJob(row)
		if err != nil {
			return err
		}

		now := time.Now()
		if _, err := execSQL(ctx, r.pool, tx,
			`UPDATE prospect_jobs SET status='dispatching', updated_at=$2 WHERE id=$1;`, fetched.ID, now); err != nil {
			return fmt.Errorf("mark dispatching: %w", err)
		}
		fetched.Status = model.JobStatusDispatching
		fetched.UpdatedAt = now
		job = fetched
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

func (r *jobRepo) MarkRunning(ctx context.Context, tx repository.Tx, id, externalID string, attempts int) error {
	const q = `
UPDATE prospect_jobs SET status='running', external_job_id=$2, attempts=$3, updated_at=now()
 WHERE id=$1 AND status='dispatching';`
	tag, err := execSQL(ctx, r.pool, tx, q, id, externalID, attempts)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *jobRepo) Requeue(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	const q = `UPDATE prospect_jobs SET status='pending', updated_at=now() WHERE id=$1 AND status='dispatching';`
	tag, err := execSQL(ctx, r.pool, tx, q, id)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) Finish(ctx context.Context, tx repository.Tx, id string, status model.JobStatus, lastError string, leadsGenerated int, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE prospect_jobs
   SET status=$2, last_error=$3, leads_generated=$4, finished_at=$5, updated_at=$5
 WHERE id=$1 AND status NOT IN ('completed','failed');`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(status), lastError, leadsGenerated, at)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *jobRepo) ListStale(ctx context.Context, tx repository.Tx, startedBefore time.Time, limit int) ([]*model.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM prospect_jobs
WHERE status IN ('pending','dispatching','running') AND created_at < $1
ORDER BY created_at
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
