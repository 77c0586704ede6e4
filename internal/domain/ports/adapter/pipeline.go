package adapter

import (
	"context"
	"encoding/json"
	"time"
)

type StartJobRequest struct {
	UserID             string          `json:"user_id"`
	BusinessContext    json.RawMessage `json:"business_context"`
	MaxSitesToScrape   int             `json:"max_sites_to_scrape"`
	MaxLeadsToGenerate int             `json:"max_leads_to_generate"`
	Timestamp          time.Time       `json:"timestamp"`
}

type StartJobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
}

// PipelineClient starts runs on the external harvesting/enrichment pipeline.
type PipelineClient interface {
	StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error)
}

// PermanentError marks a start failure that retrying cannot fix.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
