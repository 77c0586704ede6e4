package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"prospect-engine/internal/domain"
)

type EventType string

const (
	EventLeadGenerated       EventType = "lead_generated"
	EventLeadEnrichmentStart EventType = "lead_enrichment_start"
	EventLeadEnrichmentEnd   EventType = "lead_enrichment_end"
	EventStatusUpdate        EventType = "status_update"
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventPipelineEnd         EventType = "pipeline_end"
	EventPipelineError       EventType = "pipeline_error"
)

// Event is one message of a job's event stream.
type Event struct {
	JobID  string
	UserID string
	Type   EventType
	Body   EventBody
	Raw    json.RawMessage
}

// EventBody is implemented by the typed payload of each known event kind and
// by Unrecognized for everything else.
type EventBody interface{ eventBody() }

type LeadGenerated struct {
	LeadID      string         `json:"lead_id"`
	CompanyName string         `json:"company_name"`
	Website     string         `json:"website"`
	Lead        *HarvestedLead `json:"lead"`
}

// HarvestedLead is the lead object the harvester nests in lead_generated.
type HarvestedLead struct {
	ID          string `json:"id"`
	CompanyName string `json:"company_name"`
	Website     string `json:"website"`
}

// Flatten fills empty top-level fields from the nested lead.
func (e LeadGenerated) Flatten() LeadGenerated {
	if e.Lead == nil {
		return e
	}
	if e.LeadID == "" {
		e.LeadID = strings.TrimSpace(e.Lead.ID)
	}
	if e.CompanyName == "" {
		e.CompanyName = e.Lead.CompanyName
	}
	if e.Website == "" {
		e.Website = e.Lead.Website
	}
	return e
}

type LeadEnrichmentStart struct {
	LeadID string `json:"lead_id"`
}

type LeadEnrichmentEnd struct {
	LeadID  string          `json:"lead_id"`
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Result  json.RawMessage `json:"result"`
}

// Succeeded treats a missing success flag as success unless an error is present.
func (e LeadEnrichmentEnd) Succeeded() bool {
	if e.Success != nil {
		return *e.Success
	}
	return e.Error == ""
}

type StatusUpdate struct {
	LeadID   string  `json:"lead_id"`
	Stage    string  `json:"stage"`
	Status   string  `json:"status"`
	Message  string  `json:"message"`
	Progress float64 `json:"progress"`
}

type AgentProgress struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Ended   bool   `json:"-"`
}

type PipelineEnd struct {
	TotalLeadsGenerated *int `json:"total_leads_generated"`
}

type PipelineError struct {
	Error string `json:"error"`
}

type Unrecognized struct {
	Type string
}

func (LeadGenerated) eventBody()       {}
func (LeadEnrichmentStart) eventBody() {}
func (LeadEnrichmentEnd) eventBody()   {}
func (StatusUpdate) eventBody()        {}
func (AgentProgress) eventBody()       {}
func (PipelineEnd) eventBody()         {}
func (PipelineError) eventBody()       {}
func (Unrecognized) eventBody()        {}

type envelope struct {
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	EventType EventType `json:"event_type"`
}

// DecodeEvent parses an inbound event. Type specific fields sit next to the
// envelope fields. Missing user_id or job_id yields ErrMalformedEvent.
func DecodeEvent(raw []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	env.UserID = strings.TrimSpace(env.UserID)
	env.JobID = strings.TrimSpace(env.JobID)
	if env.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", domain.ErrMalformedEvent)
	}
	if env.JobID == "" {
		return nil, fmt.Errorf("%w: missing job_id", domain.ErrMalformedEvent)
	}

	ev := &Event{
		JobID:  env.JobID,
		UserID: env.UserID,
		Type:   EventType(strings.ToLower(strings.TrimSpace(string(env.EventType)))),
		Raw:    append(json.RawMessage(nil), raw...),
	}

	var err error
	switch ev.Type {
	case EventLeadGenerated:
		var b LeadGenerated
		err = json.Unmarshal(raw, &b)
		ev.Body = b.Flatten()
	case EventLeadEnrichmentStart:
		var b LeadEnrichmentStart
		err = json.Unmarshal(raw, &b)
		ev.Body = b
	case EventLeadEnrichmentEnd:
		var b LeadEnrichmentEnd
		err = json.Unmarshal(raw, &b)
		ev.Body = b
	case EventStatusUpdate:
		var b StatusUpdate
		err = json.Unmarshal(raw, &b)
		ev.Body = b
	case EventAgentStart, EventAgentEnd:
		var b AgentProgress
		err = json.Unmarshal(raw, &b)
		b.Ended = ev.Type == EventAgentEnd
		ev.Body = b
	case EventPipelineEnd:
		var b PipelineEnd
		err = json.Unmarshal(raw, &b)
		ev.Body = b
	case EventPipelineError:
		var b PipelineError
		err = json.Unmarshal(raw, &b)
		ev.Body = b
	default:
		ev.Body = Unrecognized{Type: string(env.EventType)}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, ev.Type, err)
	}
	return ev, nil
}
