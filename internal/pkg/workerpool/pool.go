package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/pkg/fault"
)

type Job func(ctx context.Context)

type WorkerPool struct {
	queue  chan Job
	wg     sync.WaitGroup
	jobs   sync.WaitGroup
	logger *zap.Logger
}

func NewWorkerPool(ctx context.Context, workerCount int, queueSize int, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerCount < 1 {
		workerCount = 1
	}

	pool := &WorkerPool{
		queue:  make(chan Job, queueSize),
		logger: logger,
	}

	pool.wg.Add(workerCount)
	for range workerCount {
		go pool.worker(ctx)
	}

	return pool
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("worker received shutdown signal")
			p.drain()
			return
		case job, ok := <-p.queue:
			if !ok {
				// queue closed
				return
			}
			job(ctx)
			p.jobs.Done()
		}
	}
}

// drain discards queued jobs so Shutdown does not wait on them.
func (p *WorkerPool) drain() {
	for {
		select {
		case _, ok := <-p.queue:
			if !ok {
				return
			}
			p.jobs.Done()
		default:
			return
		}
	}
}

// Submit queues job, blocking while the queue is full. It reports false when
// ctx ends first.
func (p *WorkerPool) Submit(ctx context.Context, job Job) bool {
	p.jobs.Add(1)
	select {
	case p.queue <- job:
		return true
	case <-ctx.Done():
		p.jobs.Done()
		p.logger.Warn("job dropped, context done before it was queued")
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones, up to ctx.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	close(p.queue)

	done := make(chan struct{})

	go func() {
		p.jobs.Wait()
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
	case <-done:
		p.logger.Debug("worker pool shutdown complete")
	}
}

// WithRetry runs job up to retries times, and at least once, sleeping delay
// between attempts. onDone receives the last error, nil on success.
func WithRetry(logger *zap.Logger, retries int, delay time.Duration, job func(ctx context.Context) error, onDone func(error)) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	retries = max(retries, 1)
	return func(ctx context.Context) {
		var err error
		for i := range retries {
			if ctx.Err() != nil {
				logger.Debug("job canceled before execution")
				err = ctx.Err()
				break
			}

			err = job(ctx)
			if err == nil || !Retryable(err) {
				break
			}
			logger.Warn("job failed", zap.Int("attempt", i+1), zap.Int("retries", retries), zap.Error(err))

			if i < retries-1 {
				select {
				case <-ctx.Done():
				case <-time.After(delay):
				}
			}
		}
		if err != nil {
			logger.Debug("job gave up", zap.Error(err))
		}
		if onDone != nil {
			onDone(err)
		}
	}
}

// Retryable reports whether a failed job may succeed when run again. Client
// faults are final.
func Retryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !fault.IsClientError(err)
}
