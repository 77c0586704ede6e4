package usecase

import (
	"context"
	"encoding/json"
	"time"

	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
)

// Client payloads, one per notification kind.

type JobProgressPayload struct {
	JobID        string          `json:"job_id"`
	Stage        string          `json:"stage,omitempty"`
	LeadID       string          `json:"lead_id,omitempty"`
	Status       string          `json:"status,omitempty"`
	Message      string          `json:"message,omitempty"`
	Progress     float64         `json:"progress,omitempty"`
	Agent        string          `json:"agent,omitempty"`
	MaxLeads     int             `json:"max_leads,omitempty"`
	EventType    string          `json:"event_type,omitempty"`
	Unclassified bool            `json:"unclassified,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

type JobCompletedPayload struct {
	JobID          string               `json:"job_id"`
	LeadsGenerated int                  `json:"leads_generated"`
	Quota          *model.QuotaSnapshot `json:"quota"`
}

type JobFailedPayload struct {
	JobID string `json:"job_id"`
	Error string `json:"error"`
}

type EnrichmentPayload struct {
	LeadID string           `json:"lead_id"`
	Status model.LeadStatus `json:"status"`
	Stage  string           `json:"stage,omitempty"`
	Error  string           `json:"error,omitempty"`
	Lead   *model.LeadView  `json:"lead,omitempty"`
}

func notify(ctx context.Context, n adapter.Notifier, userID string, kind model.NotificationKind, payload any, now time.Time) {
	if n == nil {
		return
	}
	n.Notify(ctx, model.Notification{
		Type:      kind,
		UserID:    userID,
		Timestamp: now,
		Payload:   payload,
	})
}
