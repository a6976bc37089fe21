package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/brightloom/notifyd/internal/metrics"
)

// task is a unit of work submitted to the pool: a single delivery
// attempt for one notification id.
type task func(ctx context.Context)

// Pool is a bounded worker pool fed by both HTTP ingress and the retry
// scheduler, replacing the source's SQS producer/consumer pair with an
// in-process buffered channel of tasks (SPEC_FULL §11.9).
type Pool struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool starts workers goroutines draining an in-process queue of
// depth queueSize.
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	p := &Pool{
		tasks:  make(chan task, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.tasks {
		metrics.SetWorkerPoolInflight(len(p.tasks))
		t(context.Background())
	}
}

// Submit enqueues fn for execution by a worker. It blocks if the queue
// is full, applying backpressure to the caller rather than growing
// unbounded.
func (p *Pool) Submit(fn func(ctx context.Context)) {
	p.tasks <- fn
}

// Shutdown closes the queue and waits for in-flight and queued tasks to
// drain, up to the caller's context deadline.
func (p *Pool) Shutdown(ctx context.Context) {
	close(p.tasks)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown grace period exceeded")
	}
}
