package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/domain/ports/adapter"
	"prospect-engine/internal/domain/ports/repository"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
)

// EventInterpreter applies pipeline events to jobs, leads and the quota
// ledger. Every lead mutation is an overwrite, so redelivered events are
// harmless; quota is consumed only by the transition of a job to completed.
type EventInterpreter struct {
	jobs     repository.JobRepository
	users    repository.UserRepository
	leads    repository.LeadRepository
	ledger   *QuotaLedger
	tm       repository.TransactionManager
	notifier adapter.Notifier
	final    *jobFinalizer
	cooldown time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewEventInterpreter(
	jobs repository.JobRepository,
	users repository.UserRepository,
	leads repository.LeadRepository,
	ledger *QuotaLedger,
	tm repository.TransactionManager,
	notifier adapter.Notifier,
	cooldown time.Duration,
	logger *zerolog.Logger,
) *EventInterpreter {
	log := logging.Component(logger, "EventInterpreter")
	i := &EventInterpreter{
		jobs:     jobs,
		users:    users,
		leads:    leads,
		ledger:   ledger,
		tm:       tm,
		notifier: notifier,
		cooldown: cooldown,
		now:      time.Now,
		log:      log,
	}
	i.final = &jobFinalizer{jobs: jobs, users: users, tm: tm, notifier: notifier, now: func() time.Time { return i.now() }, log: log}
	return i
}

// Handle applies one event. Events for unknown or finished jobs are dropped
// without error. A returned error concerns this event only; the caller logs
// it and moves on to the next one.
func (i *EventInterpreter) Handle(ctx context.Context, ev *model.Event) error {
	defer logging.TraceDuration(i.log, "EventInterpreter.Handle")()
	ctx = logging.WithUserID(ctx, ev.UserID)
	l := logging.With(ctx, i.log).With().Str("event_type", string(ev.Type)).Str("event_job_id", ev.JobID).Logger()

	job, err := i.resolveJob(ctx, ev)
	if err != nil {
		metrics.IncEvent(string(ev.Type), "failed")
		return err
	}
	if job == nil {
		metrics.IncEvent(string(ev.Type), "orphan")
		l.Warn().Msg("event for unknown job dropped")
		return nil
	}
	if job.UserID != ev.UserID {
		metrics.IncEvent(string(ev.Type), "orphan")
		l.Warn().Str("job_id", job.ID).Msg("event user does not own job, dropped")
		return nil
	}
	if job.Status.IsTerminal() {
		metrics.IncEvent(string(ev.Type), "late")
		l.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("event after terminal outcome ignored")
		return nil
	}
	ctx = logging.WithJobID(ctx, job.ID)

	switch b := ev.Body.(type) {
	case model.LeadGenerated:
		err = i.leadGenerated(ctx, job, b)
	case model.LeadEnrichmentStart:
		err = i.enrichmentStart(ctx, job, b)
	case model.LeadEnrichmentEnd:
		err = i.enrichmentEnd(ctx, job, ev, b)
	case model.StatusUpdate:
		err = i.statusUpdate(ctx, job, ev, b)
	case model.AgentProgress:
		i.relay(ctx, job, JobProgressPayload{
			JobID:     job.ID,
			Agent:     b.Agent,
			Message:   b.Message,
			EventType: string(ev.Type),
		})
	case model.PipelineEnd:
		err = i.pipelineEnd(ctx, job, b)
	case model.PipelineError:
		reason := strings.TrimSpace(b.Error)
		if reason == "" {
			reason = "pipeline reported an error"
		}
		_, err = i.final.fail(ctx, job, reason)
	case model.Unrecognized:
		l.Info().Msg("unrecognized event relayed")
		i.relay(ctx, job, JobProgressPayload{
			JobID:        job.ID,
			EventType:    b.Type,
			Unclassified: true,
			Raw:          ev.Raw,
		})
	default:
		err = fmt.Errorf("%w: no handler for %T", domain.ErrMalformedEvent, ev.Body)
	}

	if err != nil {
		metrics.IncEvent(string(ev.Type), "failed")
		return err
	}
	metrics.IncEvent(string(ev.Type), "applied")
	return nil
}

// resolveJob accepts either the internal id or the external handle. Events
// that arrive before the start acknowledgment was recorded still name the
// external handle, so a dispatching job of the same user is adopted.
func (i *EventInterpreter) resolveJob(ctx context.Context, ev *model.Event) (*model.Job, error) {
	job, err := i.jobs.FindByID(ctx, nil, ev.JobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load job: %w", err)
	}

	job, err = i.jobs.FindByExternalID(ctx, nil, ev.JobID)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load job by handle: %w", err)
	}

	u, err := i.users.FindByID(ctx, nil, ev.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.HasActiveJob() {
		return nil, nil
	}
	job, err = i.jobs.FindByID(ctx, nil, *u.ActiveJobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load active job: %w", err)
	}
	if job.ExternalJobID != "" {
		return nil, nil
	}
	return job, nil
}

func (i *EventInterpreter) loadLead(ctx context.Context, job *model.Job, leadID string) (*model.Lead, error) {
	if leadID == "" {
		return nil, fmt.Errorf("%w: missing lead_id", domain.ErrMalformedEvent)
	}
	lead, err := i.leads.FindByID(ctx, nil, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownLead, leadID)
		}
		return nil, fmt.Errorf("load lead: %w", err)
	}
	if lead.UserID != job.UserID {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownLead, leadID)
	}
	return lead, nil
}

func (i *EventInterpreter) leadGenerated(ctx context.Context, job *model.Job, b model.LeadGenerated) error {
	now := i.now()
	lead := model.NewHarvestedLead(b.LeadID, job.UserID, job.ID, now)
	if b.LeadID != "" {
		prior, err := i.leads.FindByID(ctx, nil, b.LeadID)
		switch {
		case err == nil:
			if prior.UserID != job.UserID {
				return fmt.Errorf("%w: %s belongs to another user", domain.ErrUnknownLead, b.LeadID)
			}
			lead = prior
			if lead.Status.CanAdvanceTo(model.LeadStatusHarvested) {
				lead.Status = model.LeadStatusHarvested
			}
			lead.UpdatedAt = now
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("load lead: %w", err)
		}
	}
	if b.CompanyName != "" {
		lead.CompanyName = b.CompanyName
	}
	if b.Website != "" {
		lead.Website = b.Website
	}

	if err := i.leads.Upsert(ctx, nil, lead); err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	view := lead.View()
	notify(ctx, i.notifier, job.UserID, model.NotifyLeadUpdate, EnrichmentPayload{
		LeadID: lead.ID,
		Status: lead.Status,
		Stage:  string(lead.ProcessingStage),
		Lead:   &view,
	}, now)
	return nil
}

func (i *EventInterpreter) enrichmentStart(ctx context.Context, job *model.Job, b model.LeadEnrichmentStart) error {
	lead, err := i.loadLead(ctx, job, b.LeadID)
	if err != nil {
		return err
	}
	if !lead.Status.CanAdvanceTo(model.LeadStatusEnriching) {
		i.log.Debug().Str("lead_id", lead.ID).Str("status", string(lead.Status)).Msg("enrichment start after terminal status ignored")
		return nil
	}
	now := i.now()
	lead.Status = model.LeadStatusEnriching
	lead.ProcessingStage = lead.ProcessingStage.Advance(model.StageAnalyzing)
	lead.UpdatedAt = now
	if err := i.leads.Upsert(ctx, nil, lead); err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	notify(ctx, i.notifier, job.UserID, model.NotifyEnrichmentUpdate, EnrichmentPayload{
		LeadID: lead.ID,
		Status: lead.Status,
		Stage:  string(lead.ProcessingStage),
	}, now)
	return nil
}

// envelopeKeys are stripped when a result is read from the top level of the event.
var envelopeKeys = []string{"job_id", "user_id", "event_type", "lead_id", "success", "error", "result"}

func (i *EventInterpreter) enrichmentEnd(ctx context.Context, job *model.Job, ev *model.Event, b model.LeadEnrichmentEnd) error {
	lead, err := i.loadLead(ctx, job, b.LeadID)
	if err != nil {
		return err
	}
	now := i.now()

	if !b.Succeeded() {
		if !lead.Status.CanAdvanceTo(model.LeadStatusEnrichmentFailed) {
			i.log.Debug().Str("lead_id", lead.ID).Str("status", string(lead.Status)).Msg("enrichment failure after terminal status ignored")
			return nil
		}
		detail := strings.TrimSpace(b.Error)
		if detail == "" {
			detail = "enrichment failed"
		}
		lead.Status = model.LeadStatusEnrichmentFailed
		lead.ErrorDetail = detail
		lead.UpdatedAt = now
		if err := i.leads.Upsert(ctx, nil, lead); err != nil {
			return fmt.Errorf("save lead: %w", err)
		}
		notify(ctx, i.notifier, job.UserID, model.NotifyEnrichmentUpdate, EnrichmentPayload{
			LeadID: lead.ID,
			Status: lead.Status,
			Stage:  string(lead.ProcessingStage),
			Error:  detail,
		}, now)
		return nil
	}

	if !lead.Status.CanAdvanceTo(model.LeadStatusEnriched) {
		i.log.Debug().Str("lead_id", lead.ID).Str("status", string(lead.Status)).Msg("enrichment success after failure ignored")
		return nil
	}

	result := b.Result
	if isNullJSON(result) {
		result = stripKeys(ev.Raw, envelopeKeys...)
	}
	if !isNullJSON(result) {
		var e model.Enrichment
		if err := json.Unmarshal(result, &e); err != nil {
			i.log.Warn().Err(err).Str("lead_id", lead.ID).Msg("enrichment result not an object, fields left unchanged")
		} else {
			lead.Merge(e)
			lead.EnrichmentPayload = mergeObjects(lead.EnrichmentPayload, result)
		}
	}
	lead.Status = model.LeadStatusEnriched
	lead.ProcessingStage = lead.ProcessingStage.Advance(model.StageCompleted)
	lead.ErrorDetail = ""
	lead.UpdatedAt = now
	if err := i.leads.Upsert(ctx, nil, lead); err != nil {
		return fmt.Errorf("save lead: %w", err)
	}

	view := lead.View()
	notify(ctx, i.notifier, job.UserID, model.NotifyEnrichmentUpdate, EnrichmentPayload{
		LeadID: lead.ID,
		Status: lead.Status,
		Stage:  string(lead.ProcessingStage),
		Lead:   &view,
	}, now)
	return nil
}

func (i *EventInterpreter) statusUpdate(ctx context.Context, job *model.Job, ev *model.Event, b model.StatusUpdate) error {
	stage, mapped := StageFromProgress(b.Stage, b.Status, b.Message)

	var leadErr error
	if b.LeadID != "" && mapped {
		lead, err := i.loadLead(ctx, job, b.LeadID)
		if err != nil {
			leadErr = err
		} else if next := lead.ProcessingStage.Advance(stage); next != lead.ProcessingStage {
			lead.ProcessingStage = next
			lead.UpdatedAt = i.now()
			if err := i.leads.Upsert(ctx, nil, lead); err != nil {
				leadErr = fmt.Errorf("save lead: %w", err)
			}
		}
	}

	p := JobProgressPayload{
		JobID:     job.ID,
		LeadID:    b.LeadID,
		Status:    b.Status,
		Message:   b.Message,
		Progress:  b.Progress,
		EventType: string(ev.Type),
	}
	if mapped {
		p.Stage = string(stage)
	} else {
		p.Stage = b.Stage
	}
	i.relay(ctx, job, p)
	return leadErr
}

// StageFromProgress maps a status update to a coarse stage. A structured stage
// wins; otherwise keywords in the free text are matched and the furthest
// stage named is chosen.
func StageFromProgress(stage, status, message string) (model.ProcessingStage, bool) {
	s := model.ProcessingStage(strings.ToLower(strings.TrimSpace(stage)))
	switch s {
	case model.StageQualification, model.StageAnalysis, model.StageStrategy:
		return s, true
	}

	text := strings.ToLower(stage + " " + status + " " + message)
	var found model.ProcessingStage
	ok := false
	pick := func(st model.ProcessingStage) {
		if !ok {
			found, ok = st, true
			return
		}
		found = found.Advance(st)
	}
	if strings.Contains(text, "qualif") {
		pick(model.StageQualification)
	}
	if strings.Contains(text, "analy") {
		pick(model.StageAnalysis)
	}
	if strings.Contains(text, "strateg") || strings.Contains(text, "outreach") || strings.Contains(text, "pitch") {
		pick(model.StageStrategy)
	}
	return found, ok
}

func (i *EventInterpreter) pipelineEnd(ctx context.Context, job *model.Job, b model.PipelineEnd) error {
	total := 0
	if b.TotalLeadsGenerated != nil {
		total = *b.TotalLeadsGenerated
	} else {
		n, err := i.leads.CountByJob(ctx, nil, job.ID)
		if err != nil {
			return fmt.Errorf("count job leads: %w", err)
		}
		total = n
	}
	if total < 0 {
		total = 0
	}

	now := i.now()
	var (
		finished bool
		user     *model.User
	)
	err := i.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ok, err := i.jobs.Finish(ctx, tx, job.ID, model.JobStatusCompleted, "", total, now)
		if err != nil {
			return fmt.Errorf("finish job: %w", err)
		}
		if !ok {
			return nil
		}
		finished = true

		if _, err := i.users.ReleaseActiveJob(ctx, tx, job.UserID, job.ID); err != nil {
			return fmt.Errorf("release active job: %w", err)
		}
		u, err := i.users.FindByID(ctx, tx, job.UserID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		plan, err := model.LookupPlan(u.PlanID)
		if err != nil {
			return err
		}
		if !plan.IsUnbounded() && i.cooldown > 0 {
			until := now.Add(i.cooldown)
			if err := i.users.SetCooldown(ctx, tx, u.ID, &until); err != nil {
				return fmt.Errorf("set cooldown: %w", err)
			}
			u.CooldownUntil = &until
		}
		u, err = i.ledger.Consume(ctx, tx, u, int64(total))
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return err
	}
	if !finished {
		i.log.Debug().Str("job_id", job.ID).Msg("duplicate pipeline_end ignored")
		return nil
	}

	metrics.IncJobFinished(string(model.JobStatusCompleted))
	i.log.Info().Str("job_id", job.ID).Str("user_id", job.UserID).Int("leads_generated", total).Msg("job completed")

	snap := i.ledger.SnapshotOf(user)
	notify(ctx, i.notifier, job.UserID, model.NotifyJobCompleted, JobCompletedPayload{
		JobID:          job.ID,
		LeadsGenerated: total,
		Quota:          snap,
	}, now)
	notify(ctx, i.notifier, job.UserID, model.NotifyQuotaUpdate, snap, now)
	return nil
}

func (i *EventInterpreter) relay(ctx context.Context, job *model.Job, p JobProgressPayload) {
	notify(ctx, i.notifier, job.UserID, model.NotifyJobProgress, p, i.now())
}

func isNullJSON(b json.RawMessage) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func stripKeys(raw json.RawMessage, keys ...string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	for _, k := range keys {
		delete(m, k)
	}
	if len(m) == 0 {
		return nil
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return out
}

// mergeObjects overlays next onto prior key by key. Null values in next do
// not erase prior ones. A non-object on either side yields next unchanged.
func mergeObjects(prior, next json.RawMessage) json.RawMessage {
	var dst map[string]json.RawMessage
	if isNullJSON(prior) || json.Unmarshal(prior, &dst) != nil || dst == nil {
		dst = map[string]json.RawMessage{}
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(next, &src); err != nil {
		return next
	}
	for k, v := range src {
		if isNullJSON(v) {
			continue
		}
		dst[k] = v
	}
	out, err := json.Marshal(dst)
	if err != nil {
		return next
	}
	return out
}
