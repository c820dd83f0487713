package queue

import (
	"context"
	"sync"
	"time"

	"github.com/imyashkale/mcpdeploy/internal/logger"
)

// DiscoveryJob asks for the tools of a live service to be listed again
type DiscoveryJob struct {
	RecordID    string
	UserID      string
	RequestedAt time.Time
}

// JobQueue manages the job queue with a channel-based system
type JobQueue struct {
	jobs      chan *DiscoveryJob
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *DiscoveryJob, bufferSize),
		done: make(chan struct{}),
	}
}

// Enqueue adds a job to the queue without blocking
func (jq *JobQueue) Enqueue(job *DiscoveryJob) error {
	jq.mu.RLock()
	defer jq.mu.RUnlock()

	if jq.closed {
		logger.WithField("record_id", job.RecordID).Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	}

	select {
	case jq.jobs <- job:
		logger.WithFields(map[string]interface{}{
			"record_id": job.RecordID,
			"user_id":   job.UserID,
		}).Info("Discovery job enqueued")
		return nil
	case <-jq.done:
		return ErrQueueClosed
	default:
		logger.WithField("record_id", job.RecordID).Warn("Failed to enqueue job: queue is full")
		return ErrQueueFull
	}
}

// Jobs returns the underlying channel for job consumption
func (jq *JobQueue) Jobs() <-chan *DiscoveryJob {
	return jq.jobs
}

// Close closes the queue. Jobs already buffered are still delivered.
func (jq *JobQueue) Close() {
	jq.closeOnce.Do(func() {
		close(jq.done)

		jq.mu.Lock()
		defer jq.mu.Unlock()
		jq.closed = true
		close(jq.jobs)
	})
}

// Handler processes one job
type Handler func(ctx context.Context, job *DiscoveryJob) error

// WorkerPool manages multiple workers processing jobs
type WorkerPool struct {
	queue   *JobQueue
	workers int
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *JobQueue, numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &WorkerPool{
		queue:   queue,
		workers: numWorkers,
	}
}

// Start starts all workers. Cancelling ctx, or calling Stop, aborts the jobs
// in progress; closing the queue lets workers drain and exit.
func (wp *WorkerPool) Start(ctx context.Context, handler Handler) {
	ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, handler)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(ctx context.Context, handler Handler) {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.queue.Jobs():
			if !ok {
				logger.Debug("Worker exiting: jobs channel closed")
				return
			}
			if job == nil {
				continue
			}

			logger.WithField("record_id", job.RecordID).Debug("Worker processing discovery job")

			if err := handler(ctx, job); err != nil {
				logger.WithFields(map[string]interface{}{
					"record_id": job.RecordID,
					"error":     err.Error(),
				}).Error("Worker failed to process discovery job")
			} else {
				logger.WithField("record_id", job.RecordID).Info("Worker completed discovery job")
			}
		case <-ctx.Done():
			logger.Debug("Worker exiting: stop signal received")
			return
		}
	}
}

// Stop stops all workers
func (wp *WorkerPool) Stop() {
	if wp.cancel != nil {
		wp.cancel()
	}
	wp.wg.Wait()
}

// Wait waits for all workers to finish
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
