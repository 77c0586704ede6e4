package model

import "time"

type NotificationKind string

const (
	NotifyQuotaUpdate      NotificationKind = "quota_update"
	NotifyJobProgress      NotificationKind = "job_progress"
	NotifyJobCompleted     NotificationKind = "job_completed"
	NotifyJobFailed        NotificationKind = "job_failed"
	NotifyLeadUpdate       NotificationKind = "lead_update"
	NotifyEnrichmentUpdate NotificationKind = "enrichment_update"
)

// Notification is the message pushed to every client of a user.
type Notification struct {
	Type      NotificationKind `json:"type"`
	UserID    string           `json:"-"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   any              `json:"payload,omitempty"`
}

// LeadView is the client representation of a lead.
type LeadView struct {
	ID                string          `json:"id"`
	JobID             string          `json:"job_id,omitempty"`
	CompanyName       string          `json:"company_name,omitempty"`
	Website           string          `json:"website,omitempty"`
	Status            LeadStatus      `json:"status"`
	ProcessingStage   ProcessingStage `json:"processing_stage"`
	QualificationTier string          `json:"qualification_tier,omitempty"`
	RelevanceScore    float64         `json:"relevance_score"`
	ROIPotentialScore float64         `json:"roi_potential_score"`
	Persona           string          `json:"persona,omitempty"`
	PainPoints        []string        `json:"pain_points,omitempty"`
	Triggers          []string        `json:"triggers,omitempty"`
	ErrorDetail       string          `json:"error,omitempty"`
}

func (l *Lead) View() LeadView {
	return LeadView{
		ID:                l.ID,
		JobID:             l.JobID,
		CompanyName:       l.CompanyName,
		Website:           l.Website,
		Status:            l.Status,
		ProcessingStage:   l.ProcessingStage,
		QualificationTier: l.QualificationTier,
		RelevanceScore:    l.RelevanceScore,
		ROIPotentialScore: l.ROIPotentialScore,
		Persona:           l.Persona,
		PainPoints:        l.PainPoints,
		Triggers:          l.Triggers,
		ErrorDetail:       l.ErrorDetail,
	}
}
