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

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

// PostgresUserRepo owns the quota and active job columns of users. Every
// mutation is one conditional UPDATE; callers learn from the affected row
// count whether their condition held.
type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

const userColumns = `id, plan_id, quota_used, quota_reset_at, active_job_id, active_job_at, cooldown_until, created_at, updated_at`

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (` + userColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  plan_id=EXCLUDED.plan_id,
  quota_used=EXCLUDED.quota_used,
  quota_reset_at=EXCLUDED.quota_reset_at,
  active_job_id=EXCLUDED.active_job_id,
  active_job_at=EXCLUDED.active_job_at,
  cooldown_until=EXCLUDED.cooldown_until,
  updated_at=EXCLUDED.updated_at;`

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.UpdatedAt = time.Now()
	_, err := execSQL(ctx, r.pool, tx, q,
		u.ID, string(u.PlanID), u.QuotaUsed, u.QuotaResetAt, u.ActiveJobID, u.ActiveJobAt, u.CooldownUntil, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	var (
		u    model.User
		plan string
	)
	if err := row.Scan(&u.ID, &plan, &u.QuotaUsed, &u.QuotaResetAt, &u.ActiveJobID, &u.ActiveJobAt, &u.CooldownUntil, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	u.PlanID = model.PlanID(plan)
	return &u, nil
}

func (r *PostgresUserRepo) ResetQuota(ctx context.Context, tx repository.Tx, userID string, prevResetAt, now time.Time) (bool, error) {
	const q = `
UPDATE users SET quota_used=0, quota_reset_at=$3, updated_at=$3
 WHERE id=$1 AND quota_reset_at=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, prevResetAt, now)
	if err != nil {
		return false, fmt.Errorf("reset quota: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) AddQuotaUsed(ctx context.Context, tx repository.Tx, userID string, n int64) error {
	const q = `UPDATE users SET quota_used=GREATEST(quota_used+$2, 0), updated_at=now() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, n)
	if err != nil {
		return fmt.Errorf("add quota used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PostgresUserRepo) ClaimActiveJob(ctx context.Context, tx repository.Tx, userID, jobID string, now time.Time) (bool, error) {
	const q = `
UPDATE users SET active_job_id=$2, active_job_at=$3, updated_at=$3
 WHERE id=$1 AND active_job_id IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, jobID, now)
	if err != nil {
		return false, fmt.Errorf("claim active job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) ReleaseActiveJob(ctx context.Context, tx repository.Tx, userID, jobID string) (bool, error) {
	const q = `
UPDATE users SET active_job_id=NULL, active_job_at=NULL, updated_at=now()
 WHERE id=$1 AND active_job_id=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, userID, jobID)
	if err != nil {
		return false, fmt.Errorf("release active job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresUserRepo) SetCooldown(ctx context.Context, tx repository.Tx, userID string, until *time.Time) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE users SET cooldown_until=$2, updated_at=now() WHERE id=$1;`, userID, until)
	if err != nil {
		return fmt.Errorf("set cooldown: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
