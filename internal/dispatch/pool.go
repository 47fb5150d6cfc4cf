// Package dispatch provides the bounded worker pool that decouples webhook
// acknowledgment from job execution.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mendhq/mend/internal/model"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity. The
// caller decides how to surface it; the pool never blocks the submitter.
var ErrQueueFull = errors.New("dispatch queue is full")

// Processor runs one job to a terminal state.
type Processor interface {
	Process(ctx context.Context, job *model.Job)
}

// Pool fans accepted jobs out to a fixed number of workers over a buffered
// channel. Submission is non-blocking; backpressure surfaces as ErrQueueFull.
type Pool struct {
	processor Processor
	queue     chan *model.Job
	workers   int

	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

func NewPool(processor Processor, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{
		processor: processor,
		queue:     make(chan *model.Job, queueSize),
		workers:   workers,
	}
}

// Start launches the workers. The context bounds every job the pool runs;
// cancelling it aborts in-flight work.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("dispatch pool started", "workers", p.workers, "queue_size", cap(p.queue))
}

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for job := range p.queue {
		if ctx.Err() != nil {
			slog.Warn("worker shutting down with job unprocessed", "worker", n, "job_id", job.ID)
			continue
		}
		p.processor.Process(ctx, job)
	}
}

// Submit enqueues a job without blocking. The send happens under the mutex
// so Stop cannot close the channel mid-submit.
func (p *Pool) Submit(job *model.Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("dispatch pool is stopped")
	}

	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the intake and waits for workers to drain the backlog.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("dispatch pool stopped")
}
