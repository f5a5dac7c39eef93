// Package workerpool runs independent jobs on a bounded set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrStopped is returned by Submit once Stop has been called
	ErrStopped = errors.New("worker pool stopped")
	// ErrQueueFull is returned by TrySubmit when no slot is free
	ErrQueueFull = errors.New("worker pool queue full")
)

// Handler processes one job
type Handler[T any] func(ctx context.Context, job T) error

// Config holds worker pool configuration
type Config struct {
	Workers   int
	QueueSize int
	// MaxRetries is the number of extra attempts after a failure
	MaxRetries int
	// RetryDelay grows linearly with the attempt number
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for batch computations
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		QueueSize:       64,
		MaxRetries:      0,
		RetryDelay:      100 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool feeds submitted jobs to its workers
type Pool[T any] struct {
	cfg     Config
	handler Handler[T]
	logger  *zap.Logger

	jobs chan T
	quit chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// New creates a pool. Call Start before submitting.
func New[T any](cfg Config, handler Handler[T], logger *zap.Logger) (*Pool[T], error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		jobs:    make(chan T, cfg.QueueSize),
		quit:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize))
}

// Submit queues a job, waiting for a free slot until ctx is done or the pool stops
func (p *Pool[T]) Submit(ctx context.Context, job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	case <-p.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues a job without waiting
func (p *Pool[T]) TrySubmit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.jobs <- job:
		p.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued jobs and waits for the workers. Jobs still running after
// ShutdownTimeout have their context cancelled.
func (p *Pool[T]) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.quit)
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped")
		case <-time.After(p.cfg.ShutdownTimeout):
			err = fmt.Errorf("worker pool shutdown timed out after %s", p.cfg.ShutdownTimeout)
			p.logger.Warn("worker pool shutdown timed out")
		}
		p.cancel()
	})
	return err
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.process(job); err != nil {
			p.failed.Add(1)
			p.logger.Error("job failed", zap.Int("worker_id", id), zap.Error(err))
			continue
		}
		p.completed.Add(1)
	}
}

func (p *Pool[T]) process(job T) error {
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.retried.Add(1)
			select {
			case <-p.ctx.Done():
				return p.ctx.Err()
			case <-time.After(p.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		if err = p.handler(p.ctx, job); err == nil {
			return nil
		}
	}
	if p.cfg.MaxRetries > 0 {
		return fmt.Errorf("after %d retries: %w", p.cfg.MaxRetries, err)
	}
	return err
}

// Stats is a snapshot of the pool counters
type Stats struct {
	Submitted  int64
	Completed  int64
	Failed     int64
	Retried    int64
	QueueDepth int
	Workers    int
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Retried:    p.retried.Load(),
		QueueDepth: len(p.jobs),
		Workers:    p.cfg.Workers,
	}
}
