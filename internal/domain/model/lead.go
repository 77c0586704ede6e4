package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type LeadStatus string

const (
	LeadStatusNew              LeadStatus = "new"
	LeadStatusHarvested        LeadStatus = "harvested"
	LeadStatusEnriching        LeadStatus = "enriching"
	LeadStatusEnriched         LeadStatus = "enriched"
	LeadStatusEnrichmentFailed LeadStatus = "enrichment_failed"
)

var leadStatusRank = map[LeadStatus]int{
	LeadStatusNew:              0,
	LeadStatusHarvested:        1,
	LeadStatusEnriching:        2,
	LeadStatusEnriched:         3,
	LeadStatusEnrichmentFailed: 3,
}

// CanAdvanceTo allows forward moves and a move to enrichment_failed from any
// non-terminal status. Re-applying the current status is allowed so duplicate
// events overwrite instead of failing.
func (s LeadStatus) CanAdvanceTo(next LeadStatus) bool {
	if s == next {
		return true
	}
	if s.IsTerminal() {
		return false
	}
	if next == LeadStatusEnrichmentFailed {
		return true
	}
	return leadStatusRank[next] > leadStatusRank[s]
}

func (s LeadStatus) IsTerminal() bool {
	return s == LeadStatusEnriched || s == LeadStatusEnrichmentFailed
}

// ProcessingStage is the coarse pipeline position of a lead, ordered.
type ProcessingStage string

const (
	StageIntake        ProcessingStage = "intake"
	StageAnalyzing     ProcessingStage = "analyzing"
	StageQualification ProcessingStage = "qualification"
	StageAnalysis      ProcessingStage = "analysis"
	StageStrategy      ProcessingStage = "strategy"
	StageCompleted     ProcessingStage = "completed"
)

var stageRank = map[ProcessingStage]int{
	StageIntake:        0,
	StageAnalyzing:     1,
	StageQualification: 2,
	StageAnalysis:      3,
	StageStrategy:      4,
	StageCompleted:     5,
}

// Advance returns the later of s and next; unknown stages never win.
func (s ProcessingStage) Advance(next ProcessingStage) ProcessingStage {
	nr, ok := stageRank[next]
	if !ok {
		return s
	}
	if cur, ok := stageRank[s]; ok && cur >= nr {
		return s
	}
	return next
}

// Lead is a discovered prospect owned by a user.
type Lead struct {
	ID                string
	UserID            string
	JobID             string
	CompanyName       string
	Website           string
	Status            LeadStatus
	ProcessingStage   ProcessingStage
	QualificationTier string
	RelevanceScore    float64
	ROIPotentialScore float64
	Persona           string
	PainPoints        []string
	Triggers          []string
	EnrichmentPayload json.RawMessage
	ErrorDetail       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewHarvestedLead(id, userID, jobID string, now time.Time) *Lead {
	if id == "" {
		id = uuid.NewString()
	}
	return &Lead{
		ID:              id,
		UserID:          userID,
		JobID:           jobID,
		Status:          LeadStatusHarvested,
		ProcessingStage: StageIntake,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Enrichment holds the result fields of an enrichment run. Nil fields were
// absent (or null) in the result and leave the lead untouched.
type Enrichment struct {
	QualificationTier *string   `json:"qualification_tier"`
	RelevanceScore    *float64  `json:"relevance_score"`
	ROIPotentialScore *float64  `json:"roi_potential_score"`
	Persona           *string   `json:"persona"`
	PainPoints        *[]string `json:"pain_points"`
	Triggers          *[]string `json:"triggers"`
}

// Merge overwrites the lead's enrichment fields with the present ones.
func (l *Lead) Merge(e Enrichment) {
	if e.QualificationTier != nil {
		l.QualificationTier = *e.QualificationTier
	}
	if e.RelevanceScore != nil {
		l.RelevanceScore = *e.RelevanceScore
	}
	if e.ROIPotentialScore != nil {
		l.ROIPotentialScore = *e.ROIPotentialScore
	}
	if e.Persona != nil {
		l.Persona = *e.Persona
	}
	if e.PainPoints != nil {
		l.PainPoints = append([]string(nil), (*e.PainPoints)...)
	}
	if e.Triggers != nil {
		l.Triggers = append([]string(nil), (*e.Triggers)...)
	}
}
