package pipeline

import (
	"context"

	"golang.org/x/time/rate"

	"prospect-engine/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.PipelineClient = (*limitedPipeline)(nil)

type limitedPipeline struct {
	inner   adapter.PipelineClient
	limiter *rate.Limiter
	sem     chan struct{}
}

// NewLimitedPipeline paces start calls to perSecond and caps the number in
// flight. Zero values disable the respective limit.
func NewLimitedPipeline(inner adapter.PipelineClient, perSecond float64, maxConcurrent int) adapter.PipelineClient {
	if perSecond <= 0 && maxConcurrent <= 0 {
		return inner
	}
	l := &limitedPipeline{inner: inner}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	if maxConcurrent > 0 {
		l.sem = make(chan struct{}, maxConcurrent)
	}
	return l
}

func (l *limitedPipeline) StartJob(ctx context.Context, req adapter.StartJobRequest) (*adapter.StartJobResponse, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		defer func() { <-l.sem }()
	}
	return l.inner.StartJob(ctx, req)
}
