// Package workerpool runs a fixed number of goroutines against a job queue
// with panic recovery, used by the quality monitor to compute per-column
// metrics concurrently across a batch's columns.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/retaildw/platform/internal/logging"
	"go.uber.org/zap"
)

// Job represents a unit of work to be processed by the worker pool.
type Job interface {
	Execute(ctx context.Context) Result
	ID() string
}

// Result represents the result of job execution.
type Result interface {
	JobID() string
	Error() error
	Duration() time.Duration
}

// WorkerPool manages a pool of workers for processing jobs.
type WorkerPool struct {
	workers int
	jobs    chan Job
	results chan Result
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logging.RetailLogger

	jobsProcessed  int64
	jobsSuccessful int64
	jobsFailed     int64
	totalDuration  int64 // nanoseconds

	bufferSize      int
	shutdownTimeout time.Duration

	running bool
	mutex   sync.RWMutex
}

// WorkerPoolConfig configures the worker pool.
type WorkerPoolConfig struct {
	Workers         int
	BufferSize      int
	ShutdownTimeout time.Duration
	Logger          logging.RetailLogger
}

// NewWorkerPool creates a new worker pool with the specified configuration.
func NewWorkerPool(config WorkerPoolConfig) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 2
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logging.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:         config.Workers,
		jobs:            make(chan Job, config.BufferSize),
		results:         make(chan Result, config.BufferSize),
		ctx:             ctx,
		cancel:          cancel,
		logger:          config.Logger,
		bufferSize:      config.BufferSize,
		shutdownTimeout: config.ShutdownTimeout,
	}
}

// Start begins processing jobs with the configured number of workers.
func (wp *WorkerPool) Start() error {
	wp.mutex.Lock()
	defer wp.mutex.Unlock()

	if wp.running {
		return errors.New("worker pool is already running")
	}

	wp.logger.Info("starting worker pool",
		zap.Int("workers", wp.workers),
		zap.Int("buffer_size", wp.bufferSize),
	)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}

	wp.running = true
	return nil
}

// Submit adds a job to the work queue.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mutex.RLock()
	running := wp.running
	wp.mutex.RUnlock()

	if !running {
		return errors.New("worker pool is not running")
	}

	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		return errors.New("worker pool is shutting down")
	default:
		return errors.New("job queue is full")
	}
}

// Results returns the results channel for reading job results.
func (wp *WorkerPool) Results() <-chan Result {
	return wp.results
}

// Shutdown gracefully shuts down the worker pool, closing the jobs channel
// and waiting for in-flight jobs to finish within the configured timeout.
func (wp *WorkerPool) Shutdown() error {
	wp.mutex.Lock()
	if !wp.running {
		wp.mutex.Unlock()
		return nil
	}
	wp.running = false
	wp.mutex.Unlock()

	close(wp.jobs)

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(wp.shutdownTimeout):
		wp.logger.Warn("worker pool shutdown timeout exceeded, forcing shutdown")
		wp.cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			return errors.New("shutdown timeout exceeded")
		}
	}

	close(wp.results)
	return nil
}

// Stats returns current worker pool statistics.
func (wp *WorkerPool) Stats() WorkerPoolStats {
	processed := atomic.LoadInt64(&wp.jobsProcessed)
	avg := int64(0)
	if processed > 0 {
		avg = atomic.LoadInt64(&wp.totalDuration) / processed
	}
	return WorkerPoolStats{
		Workers:         wp.workers,
		JobsProcessed:   processed,
		JobsSuccessful:  atomic.LoadInt64(&wp.jobsSuccessful),
		JobsFailed:      atomic.LoadInt64(&wp.jobsFailed),
		AverageDuration: time.Duration(avg),
		Running:         wp.isRunning(),
	}
}

// WorkerPoolStats contains worker pool statistics.
type WorkerPoolStats struct {
	Workers         int
	JobsProcessed   int64
	JobsSuccessful  int64
	JobsFailed      int64
	AverageDuration time.Duration
	Running         bool
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	workerLogger := wp.logger.With(zap.Int("worker_id", id))

	defer func() {
		if r := recover(); r != nil {
			workerLogger.Error("worker panicked", fmt.Errorf("panic: %v", r))
		}
	}()

	for {
		select {
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(workerLogger, job)
		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) processJob(logger logging.RetailLogger, job Job) {
	start := time.Now()

	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = &panicResult{
					jobID:    job.ID(),
					error:    fmt.Errorf("job panicked: %v", r),
					duration: time.Since(start),
				}
			}
		}()
		result = job.Execute(wp.ctx)
	}()

	duration := time.Since(start)

	atomic.AddInt64(&wp.jobsProcessed, 1)
	atomic.AddInt64(&wp.totalDuration, int64(duration))

	if result.Error() != nil {
		atomic.AddInt64(&wp.jobsFailed, 1)
		logger.Debug("job failed", zap.String("job_id", job.ID()), zap.Error(result.Error()))
	} else {
		atomic.AddInt64(&wp.jobsSuccessful, 1)
	}

	select {
	case wp.results <- result:
	case <-wp.ctx.Done():
	default:
		logger.Warn("results channel full, dropping result", zap.String("job_id", job.ID()))
	}
}

func (wp *WorkerPool) isRunning() bool {
	wp.mutex.RLock()
	defer wp.mutex.RUnlock()
	return wp.running
}

type panicResult struct {
	jobID    string
	error    error
	duration time.Duration
}

func (pr *panicResult) JobID() string          { return pr.jobID }
func (pr *panicResult) Error() error           { return pr.error }
func (pr *panicResult) Duration() time.Duration { return pr.duration }
