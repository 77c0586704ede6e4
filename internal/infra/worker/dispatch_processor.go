package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
)

// QueueProcessor is the part of the dispatcher the loop drives.
type QueueProcessor interface {
	ProcessNext(ctx context.Context) (bool, error)
	Wakeups() <-chan struct{}
}

// DispatchProcessor drains pending jobs whenever an admission wakes it and on
// every poll tick. A dispatch cut short by shutdown goes back to pending and is
// picked up after the restart.
type DispatchProcessor struct {
	queue    QueueProcessor
	interval time.Duration
	log      *zerolog.Logger
}

func NewDispatchProcessor(queue QueueProcessor, interval time.Duration, log *zerolog.Logger) *DispatchProcessor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &DispatchProcessor{queue: queue, interval: interval, log: log}
}

// Start blocks until ctx is cancelled. Run it in a goroutine.
func (p *DispatchProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Dur("interval", p.interval).Msg("dispatch processor started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("dispatch processor stopping")
			return
		case <-ticker.C:
		case <-p.queue.Wakeups():
		}
		if pool.Saturated() {
			// A queued drain will see this job too.
			continue
		}
		if err := pool.Submit(p.drain); err != nil && !errors.Is(err, domain.ErrQueueFull) {
			p.log.Error().Err(err).Msg("submit drain task")
		}
	}
}

// drain claims jobs until the queue is empty or a claim fails.
func (p *DispatchProcessor) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		ok, err := p.queue.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}
