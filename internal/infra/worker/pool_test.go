package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospect-engine/internal/domain"
)

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestPool_RunsTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(2, nopLogger())
	p.Start(ctx)
	defer p.Stop()

	var n int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&n, 1)
			return nil
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 5, atomic.LoadInt32(&n))
}

func TestPool_RefusesWhenSaturated(t *testing.T) {
	p := NewPool(1, nopLogger())
	// Not started: the buffer of four fills up.
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	}
	err := p.Submit(func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, domain.ErrQueueFull))
	assert.Error(t, p.Submit(nil))
}

func TestKeyedPool_PreservesOrderPerKey(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewKeyedPool(4, 8, nopLogger())
	p.Start(ctx)
	defer p.Stop()

	var (
		mu  sync.Mutex
		got = map[string][]int{}
		wg  sync.WaitGroup
	)
	keys := []string{"job-a", "job-b", "job-c"}
	for i := 0; i < 20; i++ {
		for _, k := range keys {
			k, i := k, i
			wg.Add(1)
			require.NoError(t, p.Submit(ctx, k, func(context.Context) error {
				defer wg.Done()
				mu.Lock()
				got[k] = append(got[k], i)
				mu.Unlock()
				return nil
			}))
		}
	}
	wg.Wait()

	for _, k := range keys {
		require.Len(t, got[k], 20)
		for i, v := range got[k] {
			assert.Equal(t, i, v, "key %s out of order", k)
		}
	}
}

func TestKeyedPool_SameKeySameShard(t *testing.T) {
	p := NewKeyedPool(16, 1, nopLogger())
	assert.Equal(t, p.Shard("job-1"), p.Shard("job-1"))
	assert.GreaterOrEqual(t, p.Shard("job-2"), 0)
	assert.Less(t, p.Shard("job-2"), 16)
}

func TestKeyedPool_SubmitHonoursContext(t *testing.T) {
	p := NewKeyedPool(1, 1, nopLogger())
	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, "k", func(context.Context) error { return nil }))

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err := p.Submit(short, "k", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_SurvivesPanickingTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(1, nopLogger())
	p.Start(ctx)
	defer p.Stop()

	require.NoError(t, p.Submit(func(context.Context) error { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(func(context.Context) error {
		close(done)
		return nil
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestRun_ConvertsPanic(t *testing.T) {
	err := run(context.Background(), func(context.Context) error { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panicked: boom")
}

func TestPool_Saturated(t *testing.T) {
	p := NewPool(1, nopLogger())
	assert.False(t, p.Saturated())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	release := make(chan struct{})
	started := make(chan struct{})
	p.Start(ctx)
	defer p.Stop()
	defer close(release)

	require.NoError(t, p.Submit(func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(func(context.Context) error { return nil }))
	assert.True(t, p.Saturated())
}
