package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prospect-engine/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.PipelineClient = (*HTTPClient)(nil)

const startPath = "/api/v1/jobs/start"

// HTTPClient starts runs on the external pipeline over HTTP.
// Authorization: X-API-Key <pipeline.api_key>
type HTTPClient struct {
	apiKey string
	base   string
	client *http.Client
}

func NewHTTPClient(base, apiKey string) (*HTTPClient, error) {
	if base == "" {
		return nil, errors.New("pipeline base url empty")
	}
	return &HTTPClient{
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		// Per-attempt deadlines come from the caller's context.
		client: &http.Client{},
	}, nil
}

// StartJob posts the request and returns the pipeline's job handle. Client
// errors other than 408 and 429 come back as *adapter.PermanentError.
func (c *HTTPClient) StartJob(ctx context.Context, req adapter.StartJobRequest) (*adapter.StartJobResponse, error) {
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, &adapter.PermanentError{Err: fmt.Errorf("encode start request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+startPath, bytes.NewReader(b))
	if err != nil {
		return nil, &adapter.PermanentError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pipeline start: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("pipeline start: http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if permanentStatus(resp.StatusCode) {
			return nil, &adapter.PermanentError{Err: err}
		}
		return nil, err
	}

	var out adapter.StartJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode start response: %w", err)
	}
	if out.JobID == "" {
		return nil, &adapter.PermanentError{Err: errors.New("pipeline start: response has no job_id")}
	}
	return &out, nil
}

func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}
