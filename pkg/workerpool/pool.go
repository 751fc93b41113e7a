// Package workerpool provides a bounded worker pool. The monitor scheduler
// uses it as explicit backpressure on the risk scoring backend: a cycle
// fans its per-patient evaluations across a fixed number of workers
// instead of spawning one goroutine per admission.
package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work, keyed for logging and result correlation.
type Task struct {
	Key     string
	Payload interface{}
}

// Result is the outcome of one task.
type Result struct {
	Key   string
	Err   error
	Value interface{}
}

// WorkerFunc processes a single task. Failures belong to the task, never
// to the pool: the pool reports them and moves on.
type WorkerFunc func(ctx context.Context, task Task) Result

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent workers.
	Workers int
	// QueueSize bounds the pending task queue.
	QueueSize int
	// DrainTimeout bounds how long Stop waits for in-flight work.
	DrainTimeout time.Duration
}

// DefaultConfig returns defaults sized for per-patient evaluation against
// an external scoring service.
func DefaultConfig() Config {
	return Config{
		Workers:      8,
		QueueSize:    256,
		DrainTimeout: 30 * time.Second,
	}
}

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("worker pool queue full")

// Pool dispatches tasks across a fixed set of workers.
type Pool struct {
	config Config
	fn     WorkerFunc
	logger *zap.Logger

	tasks   chan Task
	results chan Result
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	stopped   int32
}

// New creates a worker pool. The pool is inert until Start is called.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:  cfg,
		fn:      fn,
		logger:  logger,
		tasks:   make(chan Task, cfg.QueueSize),
		results: make(chan Result, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a task.
func (p *Pool) Submit(task Task) error {
	if atomic.LoadInt32(&p.stopped) == 1 {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Results returns the result channel. The channel closes after Stop has
// drained the workers.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Stop closes the queue and waits for in-flight tasks, up to DrainTimeout.
// In-flight work finishes; queued work behind it is still processed because
// the task channel is drained, not abandoned.
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapInt32(&p.stopped, 0, 1) {
		return
	}
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("worker pool drained")
	case <-time.After(p.config.DrainTimeout):
		p.logger.Warn("worker pool drain timed out", zap.Duration("timeout", p.config.DrainTimeout))
		p.cancel()
		<-done
	}
	close(p.results)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		result := p.fn(p.ctx, task)
		result.Key = task.Key

		if result.Err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Debug("task failed",
				zap.String("key", task.Key),
				zap.Int("worker_id", id),
				zap.Error(result.Err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}

		p.results <- result
	}
}

// Stats reports cumulative pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
