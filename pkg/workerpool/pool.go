// Package workerpool provides a bounded worker pool for controlled
// concurrency in the notification dispatcher.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of work.
type Job struct {
	ID      string
	Payload any
	Context context.Context
}

// Outcome is the terminal result of a job, after any retries.
type Outcome struct {
	JobID string
	Err   error
}

// WorkerFunc processes one job attempt.
type WorkerFunc func(ctx context.Context, job *Job) error

// Config holds pool tuning.
type Config struct {
	Workers   int
	QueueSize int
	// MaxRetries is the retry ceiling per job; backoff grows linearly
	// with the attempt.
	MaxRetries              int
	RetryDelay              time.Duration
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for notification delivery.
func DefaultConfig() Config {
	return Config{
		Workers:                 10,
		QueueSize:               1000,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs jobs across a fixed set of workers.
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	jobChan chan *Job
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	retried   int64
	depth     int64
}

// New creates a pool.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
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

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		jobChan:    make(chan *Job, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a job. It fails fast when the queue is full or the pool
// is shutting down.
func (p *Pool) Submit(job *Job) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case p.jobChan <- job:
		atomic.AddInt64(&p.submitted, 1)
		atomic.AddInt64(&p.depth, 1)
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Stop drains the queue and waits for workers up to the shutdown timeout.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")

	p.cancel()
	close(p.jobChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobChan {
		atomic.AddInt64(&p.depth, -1)
		p.process(id, job)
	}
}

func (p *Pool) process(workerID int, job *Job) {
	ctx := job.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		lastErr = p.workerFunc(ctx, job)
		if lastErr == nil {
			atomic.AddInt64(&p.completed, 1)
			return
		}

		if attempt < p.config.MaxRetries {
			atomic.AddInt64(&p.retried, 1)
			p.logger.Debug("retrying job",
				zap.String("job_id", job.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
			case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
				continue
			}
			break
		}
	}

	atomic.AddInt64(&p.failed, 1)
	p.logger.Error("job failed",
		zap.String("job_id", job.ID),
		zap.Int("worker_id", workerID),
		zap.Error(lastErr))
}

// Stats holds pool counters.
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Retried       int64
	QueueDepth    int64
	QueueCapacity int
	Workers       int
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		Retried:       atomic.LoadInt64(&p.retried),
		QueueDepth:    atomic.LoadInt64(&p.depth),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue is not backing up.
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
