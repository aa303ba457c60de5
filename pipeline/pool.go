package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/normativa/lexgate/legal"
)

// ErrPoolClosed is returned for submissions after Close.
var ErrPoolClosed = errors.New("pipeline pool closed")

type job struct {
	ctx     context.Context
	query   legal.Query
	results chan jobResult
}

type jobResult struct {
	result Result
	err    error
}

// Pool bounds how many requests run through the orchestrator concurrently.
// Each request still executes its stages sequentially; the pool only fans
// requests across workers.
type Pool struct {
	orchestrator *Orchestrator
	jobs         chan job
	done         chan struct{}
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

func NewPool(orchestrator *Orchestrator, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	p := &Pool{
		orchestrator: orchestrator,
		jobs:         make(chan job),
		done:         make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.results <- jobResult{err: err}
				continue
			}
			result, err := p.orchestrator.Process(j.ctx, j.query)
			j.results <- jobResult{result: result, err: err}
		}
	}
}

// Process submits a query and blocks until a worker finishes it or the
// caller's context is cancelled. Cancellation propagates into the running
// pipeline through the job context. The jobs channel is never closed, so a
// submission parked here while Close runs gets ErrPoolClosed instead of
// racing a channel close.
func (p *Pool) Process(ctx context.Context, query legal.Query) (Result, error) {
	j := job{ctx: ctx, query: query, results: make(chan jobResult, 1)}

	select {
	case p.jobs <- j:
	case <-p.done:
		return Result{}, ErrPoolClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-j.results:
		return res.result, res.err
	case <-ctx.Done():
		// The worker still drains into the buffered channel; the result is
		// discarded because the caller is gone.
		return Result{}, ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight requests to finish.
// Parked submissions are rejected with ErrPoolClosed.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
