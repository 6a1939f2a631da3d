package submit

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/darshan-rambhia/beacon/internal/metrics"
)

// ErrPoolClosed is returned by Enqueue once the pool's context is done.
var ErrPoolClosed = errors.New("submission pool closed")

// Pool runs queued work on a fixed set of workers. Work sharing a key runs
// one at a time in the order it was enqueued; different keys run
// concurrently. Enqueue never blocks.
type Pool struct {
	ctx  context.Context
	mu   sync.Mutex
	cond *sync.Cond

	ready     []string
	queues    map[string][]func(ctx context.Context)
	scheduled map[string]bool
	closed    bool

	pending sync.WaitGroup
}

// NewPool starts size workers. Queued work that has not started when ctx is
// cancelled is dropped.
func NewPool(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		ctx:       ctx,
		queues:    make(map[string][]func(ctx context.Context)),
		scheduled: make(map[string]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	for range size {
		go p.worker()
	}
	go p.closeOnDone()
	return p
}

// Enqueue schedules fn behind any queued work with the same key. The context
// passed to fn is not cancelled by pool shutdown so started work always runs
// to completion.
func (p *Pool) Enqueue(key string, fn func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	metrics.QueueDepth.Inc()
	p.queues[key] = append(p.queues[key], fn)
	if !p.scheduled[key] {
		p.scheduled[key] = true
		p.ready = append(p.ready, key)
		p.cond.Signal()
	}
	return nil
}

// Wait blocks until all enqueued work has finished or been dropped.
func (p *Pool) Wait() {
	p.pending.Wait()
}

func (p *Pool) worker() {
	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		key := p.ready[0]
		p.ready = p.ready[1:]
		fn := p.queues[key][0]
		p.queues[key] = p.queues[key][1:]
		p.mu.Unlock()

		metrics.QueueDepth.Dec()
		fn(context.WithoutCancel(p.ctx))
		p.pending.Done()

		p.mu.Lock()
		if len(p.queues[key]) > 0 && !p.closed {
			p.ready = append(p.ready, key)
			p.cond.Signal()
		} else if !p.closed {
			delete(p.queues, key)
			delete(p.scheduled, key)
		}
		p.mu.Unlock()
	}
}

func (p *Pool) closeOnDone() {
	<-p.ctx.Done()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	dropped := 0
	for key, q := range p.queues {
		for range q {
			dropped++
			metrics.QueueDepth.Dec()
			p.pending.Done()
		}
		delete(p.queues, key)
	}
	p.ready = nil
	if dropped > 0 {
		slog.Warn("dropping queued submissions", "count", dropped, "error", p.ctx.Err())
	}
	p.cond.Broadcast()
}
