package adapter

import (
	"context"
	"encoding/json"
	"time"
)

// BusinessContext is what the user approved as the brief for a run.
type BusinessContext struct {
	UserID  string
	Data    json.RawMessage
	Missing []string
	// UpdatedAt is the row version the brief was read at.
	UpdatedAt time.Time
}

func (b *BusinessContext) Ready() bool { return b != nil && len(b.Missing) == 0 && len(b.Data) > 0 }

// ContextProvider reads the business context owned by the CRUD collaborators.
type ContextProvider interface {
	Get(ctx context.Context, userID string) (*BusinessContext, error)
}
