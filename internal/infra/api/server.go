package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"prospect-engine/internal/config"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/infra/logging"
)

// Admitter is the admission entry point.
type Admitter interface {
	TryStart(ctx context.Context, userID string) (*model.Admission, error)
}

type QuotaReader interface {
	Snapshot(ctx context.Context, userID string) (*model.QuotaSnapshot, error)
}

type ActiveJobReader interface {
	ActiveJobFor(ctx context.Context, userID string) (*model.Job, error)
}

// EventSink accepts raw pipeline events.
type EventSink interface {
	Ingest(ctx context.Context, raw []byte, done func()) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// WSServer upgrades an authenticated request into a notification stream.
type WSServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

// HealthCheck reports a dependency's state; nil means healthy.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Admission  Admitter
	Quota      QuotaReader
	Jobs       ActiveJobReader
	Events     EventSink
	Limiter    RateLimiter // optional
	WS         WSServer
	Auth       *AuthManager
	Health     map[string]HealthCheck
	Version    string
	StartLimit int // start requests per user per minute
}

type Server struct {
	deps          Deps
	cfg           config.HTTPConfig
	webhookSecret string
	log           *zerolog.Logger
	handler       http.Handler
	srv           *http.Server
	startedAt     time.Time
}

func NewServer(cfg config.HTTPConfig, webhookSecret string, deps Deps, logger *zerolog.Logger) *Server {
	s := &Server{
		deps:          deps,
		cfg:           cfg,
		webhookSecret: webhookSecret,
		log:           logging.Component(logger, "http"),
		startedAt:     time.Now(),
	}
	s.handler = Chain(s.routes(), TraceID(), RequestLog(s.log), Recover(s.log))
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r.With(Timeout(timeout)).Post("/api/v1/pipeline/events", s.handlePipelineEvent)

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Auth.RequireUser)
		r.Get("/ws", s.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(timeout))
			r.Post("/api/v1/prospecting/start", s.handleStart)
			r.Get("/api/v1/quota", s.handleQuota)
			r.Get("/api/v1/jobs/active", s.handleActiveJob)
		})
	})
	return r
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
