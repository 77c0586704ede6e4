package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
	"prospect-engine/internal/domain/model"
	"prospect-engine/internal/infra/logging"
	"prospect-engine/internal/infra/metrics"
	"prospect-engine/internal/infra/worker"
)

// EventHandler applies one decoded event.
type EventHandler interface {
	Handle(ctx context.Context, ev *model.Event) error
}

// Submitter runs tasks in order per key.
type Submitter interface {
	Submit(ctx context.Context, key string, task worker.Task) error
}

// Ingester is the single entry point for pipeline events, whichever transport
// carried them. Events of one job are applied in arrival order.
type Ingester struct {
	handler EventHandler
	pool    Submitter
	log     *zerolog.Logger
}

func NewIngester(handler EventHandler, pool Submitter, log *zerolog.Logger) *Ingester {
	return &Ingester{handler: handler, pool: pool, log: logging.Component(log, "ingest")}
}

// Ingest decodes raw and queues it behind earlier events of the same job.
// A decode failure is returned wrapped in domain.ErrMalformedEvent and nothing
// is queued. done, when set, runs after the event has been handled.
func (in *Ingester) Ingest(ctx context.Context, raw []byte, done func()) error {
	ev, err := model.DecodeEvent(raw)
	if err != nil {
		metrics.IncEvent("unknown", "malformed")
		in.log.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed pipeline event")
		return err
	}

	task := func(ctx context.Context) error {
		if done != nil {
			defer done()
		}
		ctx = logging.WithJobID(logging.WithUserID(ctx, ev.UserID), ev.JobID)
		if err := in.handler.Handle(ctx, ev); err != nil {
			logging.With(ctx, in.log).Warn().Err(err).Str("event_type", string(ev.Type)).Msg("event not applied")
		}
		return nil
	}
	if err := in.pool.Submit(ctx, ev.JobID, task); err != nil {
		return fmt.Errorf("queue event: %w", err)
	}
	return nil
}

// IsMalformed reports whether err came from decoding rather than queueing.
func IsMalformed(err error) bool { return errors.Is(err, domain.ErrMalformedEvent) }
