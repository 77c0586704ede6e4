package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/queue"
	red "prospect-engine/internal/infra/redis"
	"prospect-engine/internal/usecase"
)

const maxEventBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type rejectionResponse struct {
	Reason              model.RejectReason `json:"reason"`
	CooldownRemainingMs int64              `json:"cooldown_remaining_ms,omitempty"`
}

type startResponse struct {
	JobID    string `json:"job_id"`
	MaxLeads int    `json:"max_leads"`
	MaxSites int    `json:"max_sites"`
}

type jobResponse struct {
	ID             string          `json:"id"`
	Status         model.JobStatus `json:"status"`
	MaxLeads       int             `json:"max_leads"`
	MaxSites       int             `json:"max_sites"`
	Attempts       int             `json:"attempts"`
	LeadsGenerated int             `json:"leads_generated"`
	CreatedAt      time.Time       `json:"created_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func rejectionStatus(reason model.RejectReason) int {
	switch reason {
	case model.RejectJobRunning:
		return http.StatusConflict
	case model.RejectContextIncomplete:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusTooManyRequests
	}
}

func writeRejection(w http.ResponseWriter, rej model.Rejection) {
	writeJSON(w, rejectionStatus(rej.Reason), rejectionResponse{
		Reason:              rej.Reason,
		CooldownRemainingMs: rej.CooldownRemaining.Milliseconds(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := UserFrom(ctx)
	l := logging.With(ctx, s.log)

	if s.deps.Limiter != nil && s.deps.StartLimit > 0 {
		ok, err := s.deps.Limiter.Allow(ctx, red.AdmissionKey(userID), s.deps.StartLimit, time.Minute)
		if err != nil {
			l.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeRejection(w, model.Rejection{Reason: model.RejectRateLimited})
			return
		}
	}

	adm, err := s.deps.Admission.TryStart(ctx, userID)
	if err != nil {
		if rej, ok := usecase.AsRejection(err); ok {
			writeRejection(w, *rej)
			return
		}
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		l.Error().Err(err).Msg("admission failed")
		writeError(w, http.StatusInternalServerError, "could not start prospecting")
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{JobID: adm.JobID, MaxLeads: adm.MaxLeads, MaxSites: adm.MaxSites})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())
	snap, err := s.deps.Quota.Snapshot(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logging.With(r.Context(), s.log).Error().Err(err).Msg("quota snapshot failed")
		writeError(w, http.StatusInternalServerError, "could not read quota")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleActiveJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())
	job, err := s.deps.Jobs.ActiveJobFor(r.Context(), userID)
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "no active job")
		return
	case err != nil:
		logging.With(r.Context(), s.log).Error().Err(err).Msg("active job lookup failed")
		writeError(w, http.StatusInternalServerError, "could not read active job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		ID:             job.ID,
		Status:         job.Status,
		MaxLeads:       job.MaxLeads,
		MaxSites:       job.MaxSites,
		Attempts:       job.Attempts,
		LeadsGenerated: job.LeadsGenerated,
		CreatedAt:      job.CreatedAt,
	})
}

// handlePipelineEvent accepts one event per request. The event is applied
// asynchronously, after earlier events of the same job.
func (s *Server) handlePipelineEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "event too large")
		return
	}
	if !validSignature(s.webhookSecret, body, r.Header.Get(signatureHeader)) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if err := s.deps.Events.Ingest(r.Context(), body, nil); err != nil {
		if queue.IsMalformed(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logging.With(r.Context(), s.log).Error().Err(err).Msg("could not queue event")
		writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserFrom(r.Context())
	s.deps.WS.ServeWS(w, r, userID)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Uptime       string            `json:"uptime"`
	Dependencies map[string]string `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps := make(map[string]string, len(s.deps.Health))
	status := "healthy"
	for name, check := range s.deps.Health {
		if err := check(r.Context()); err != nil {
			deps[name] = "unhealthy: " + err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "healthy"
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{
		Status:       status,
		Version:      s.deps.Version,
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		Dependencies: deps,
	})
}
