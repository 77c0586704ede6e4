package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"prospect-engine/internal/domain"
)

// Task is a unit of work run by a pool.
type Task func(ctx context.Context) error

var errNilTask = errors.New("nil task")

// run executes task and turns a panic into an error, so one bad task never
// takes a worker goroutine down with it.
func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}

// Pool runs submitted tasks on a fixed set of goroutines. Submit never blocks;
// a saturated pool refuses work with domain.ErrQueueFull.
type Pool struct {
	tasks    chan Task
	quit     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	size     int
	inFlight atomic.Int32
	log      *zerolog.Logger
}

func NewPool(workers int, log *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		tasks: make(chan Task, workers*4),
		quit:  make(chan struct{}),
		size:  workers,
		log:   log,
	}
}

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop(ctx, i)
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case task := <-p.tasks:
			p.inFlight.Add(1)
			if err := run(ctx, task); err != nil {
				p.log.Error().Err(err).Int("worker", id).Msg("task failed")
			}
			p.inFlight.Add(-1)
		}
	}
}

// Stop signals the workers and waits for running tasks to return.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Saturated reports whether every worker is busy and more work is waiting.
func (p *Pool) Saturated() bool {
	return int(p.inFlight.Load()) >= p.size && len(p.tasks) > 0
}
