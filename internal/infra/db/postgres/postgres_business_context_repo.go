package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/ports/adapter"
)

// BusinessContextStore is the ContextProvider plus the write used by tooling.
type BusinessContextStore interface {
	adapter.ContextProvider
	Save(ctx context.Context, bc *adapter.BusinessContext) error
	// Version returns the row's updated_at without reading the brief.
	Version(ctx context.Context, userID string) (time.Time, error)
}

var _ BusinessContextStore = (*BusinessContextRepo)(nil)

// BusinessContextRepo reads the brief the CRUD side keeps in business_contexts.
// A context is incomplete when the row lists missing fields or when one of
// the required keys is absent or empty in data.
type BusinessContextRepo struct {
	pool     *pgxpool.Pool
	required []string
}

func NewBusinessContextRepo(pool *pgxpool.Pool, required ...string) *BusinessContextRepo {
	return &BusinessContextRepo{pool: pool, required: required}
}

func (r *BusinessContextRepo) Get(ctx context.Context, userID string) (*adapter.BusinessContext, error) {
	const q = `SELECT data, missing_fields, updated_at FROM business_contexts WHERE user_id=$1;`
	row, err := pickRow(ctx, r.pool, nil, q, userID)
	if err != nil {
		return nil, err
	}
	var (
		data      []byte
		missing   []string
		updatedAt time.Time
	)
	if err := row.Scan(&data, &missing, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return &adapter.BusinessContext{
		UserID:    userID,
		Data:      data,
		Missing:   missingFields(data, missing, r.required),
		UpdatedAt: updatedAt,
	}, nil
}

func (r *BusinessContextRepo) Version(ctx context.Context, userID string) (time.Time, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT updated_at FROM business_contexts WHERE user_id=$1;`, userID)
	if err != nil {
		return time.Time{}, err
	}
	var v time.Time
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, domain.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
	}
	return v, nil
}

func (r *BusinessContextRepo) Save(ctx context.Context, bc *adapter.BusinessContext) error {
	const q = `
INSERT INTO business_contexts (user_id, data, missing_fields, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE SET
  data=EXCLUDED.data, missing_fields=EXCLUDED.missing_fields, updated_at=EXCLUDED.updated_at;`
	missing := bc.Missing
	if missing == nil {
		missing = []string{}
	}
	data := bc.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if _, err := execSQL(ctx, r.pool, nil, q, bc.UserID, string(data), missing); err != nil {
		return fmt.Errorf("save business context: %w", err)
	}
	return nil
}

// missingFields merges the stored list with required keys that are absent,
// null or blank in data. The result is sorted and free of duplicates.
func missingFields(data []byte, stored, required []string) []string {
	set := map[string]struct{}{}
	for _, f := range stored {
		if f = strings.TrimSpace(f); f != "" {
			set[f] = struct{}{}
		}
	}

	var doc map[string]json.RawMessage
	_ = json.Unmarshal(data, &doc)
	for _, key := range required {
		v, ok := doc[key]
		if !ok {
			set[key] = struct{}{}
			continue
		}
		switch strings.TrimSpace(string(v)) {
		case "", "null", `""`, "[]", "{}":
			set[key] = struct{}{}
		}
	}

	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
