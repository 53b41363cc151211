package jobs

import (
	"context"
	"errors"
	"sync"

	"minidrive/utils"

	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is closed")

// WorkerPool runs submitted tasks on a fixed number of goroutines. The queue
// is unbounded so Submit never blocks a request handler.
type WorkerPool struct {
	workers int
	logger  zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func(ctx context.Context)
	closed  bool
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		workers: workers,
		logger:  utils.ComponentLogger("worker-pool"),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Info().Int("workers", p.workers).Msg("Worker pool started")
}

// Submit queues task. Tasks run in submission order across the workers.
func (p *WorkerPool) Submit(task func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Pending reports how many tasks are queued and not yet picked up.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *WorkerPool) next() (func(ctx context.Context), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	task := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return task, true
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for {
		task, ok := p.next()
		if !ok {
			return
		}
		p.execute(task)
	}
}

func (p *WorkerPool) execute(task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Task panicked")
		}
	}()
	task(p.ctx)
}

// Shutdown stops accepting tasks and waits for the queue to drain. If ctx
// ends first, running tasks see their context cancelled and queued tasks are
// dropped.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	started := p.started
	p.cond.Broadcast()
	p.mu.Unlock()

	if !started {
		p.dropQueue()
		p.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info().Msg("Worker pool drained")
		return nil
	case <-ctx.Done():
		dropped := p.dropQueue()
		p.cancel()
		<-done
		p.logger.Warn().Int("dropped", dropped).Msg("Worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (p *WorkerPool) dropQueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queue)
	p.queue = nil
	return n
}
