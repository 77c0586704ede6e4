package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

// KeyedPool routes every task to a shard chosen by its key. Tasks sharing a
// key run one at a time in submission order; different keys run in parallel.
type KeyedPool struct {
	shards []chan Task
	wg     sync.WaitGroup
	quit   chan struct{}
	once   sync.Once
	log    *zerolog.Logger
}

func NewKeyedPool(shards, buffer int, log *zerolog.Logger) *KeyedPool {
	if shards <= 0 {
		shards = 1
	}
	if buffer <= 0 {
		buffer = 32
	}
	p := &KeyedPool{shards: make([]chan Task, shards), quit: make(chan struct{}), log: log}
	for i := range p.shards {
		p.shards[i] = make(chan Task, buffer)
	}
	return p
}

func (p *KeyedPool) Start(ctx context.Context) {
	for i, ch := range p.shards {
		p.wg.Add(1)
		go func(id int, ch chan Task) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-ch:
					if err := run(ctx, task); err != nil {
						p.log.Error().Err(err).Int("shard", id).Msg("keyed task failed")
					}
				}
			}
		}(i, ch)
	}
}

func (p *KeyedPool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}

// Shard reports which shard serves key.
func (p *KeyedPool) Shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(p.shards)))
}

// Submit waits for room in the key's shard. It fails only when ctx ends or
// the pool is stopped.
func (p *KeyedPool) Submit(ctx context.Context, key string, task Task) error {
	if task == nil {
		return errNilTask
	}
	select {
	case p.shards[p.Shard(key)] <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return errors.New("pool stopped")
	}
}
