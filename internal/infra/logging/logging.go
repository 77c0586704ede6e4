// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"prospect-engine/internal/config"
)

// New builds the root logger. Levels are trace|debug|info|warn|error, with
// info used for anything unrecognized. Dev mode or format "console" switches
// to human readable output; sampling applies only outside dev.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return newLogger(os.Stdout, cfg, dev)
}

func newLogger(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if dev || strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(w).Level(level).With().Timestamp().Str("service", "prospect-engine").Logger()

	if cfg.Sampling && !dev {
		// First 100 per second, then one in 100.
		sampled := base.Sample(&zerolog.BurstSampler{
			Burst:       100,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: 100},
		})
		return &sampled
	}
	return &base
}

type ctxKey string

// ctxFields lists the request scoped ids copied onto log lines, in order.
var ctxFields = []ctxKey{"trace_id", "user_id", "job_id"}

func WithTraceID(ctx context.Context, id string) context.Context { return withField(ctx, "trace_id", id) }
func WithUserID(ctx context.Context, id string) context.Context  { return withField(ctx, "user_id", id) }
func WithJobID(ctx context.Context, id string) context.Context   { return withField(ctx, "job_id", id) }

func withField(ctx context.Context, key ctxKey, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

// With returns base enriched with the ids carried by ctx.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	for _, k := range ctxFields {
		if v, ok := ctx.Value(k).(string); ok {
			l = l.Str(string(k), v)
		}
	}
	logger := l.Logger()
	return &logger
}

// Component derives a child logger tagged with the component name.
func Component(base *zerolog.Logger, name string) *zerolog.Logger {
	l := base.With().Str("component", name).Logger()
	return &l
}

// TraceDuration logs entry and exit of name at TRACE level.
// Usage: defer logging.TraceDuration(logger, "AdmissionController.TryStart")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		logger.Trace().Str("method", name).Dur("duration", time.Since(start)).Msg("finish")
	}
}

// Redact masks a secret for logs outside dev, keeping its last four characters.
func Redact(s string, dev bool) string {
	switch {
	case dev:
		return s
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return "***" + s[len(s)-4:]
}
