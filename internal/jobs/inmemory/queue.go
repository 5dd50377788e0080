package inmemory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmorozov/bankfeed/internal/jobs"
)

// Queue is an in-memory implementation of job publisher and consumer.
// Jobs are sharded onto worker channels by link id, and each shard is
// drained by a single goroutine, so two jobs for the same link never run
// concurrently. That serialization is load-bearing: a link's refresh
// token is single-use.
//
// This implementation is suitable for single-instance deployments and
// testing. For multi-instance deployments, migrate to Cloud Tasks or
// Pub/Sub with a per-link ordering key.
type Queue struct {
	shards    []chan *jobs.SyncLinkJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
}

// NewQueue creates a new in-memory job queue. shardCount fixes the
// number of worker goroutines; bufferSize determines how many jobs can
// wait per shard before PublishSyncLink blocks.
func NewQueue(shardCount, bufferSize int, store jobs.JobStore) *Queue {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]chan *jobs.SyncLinkJob, shardCount)
	for i := range shards {
		shards[i] = make(chan *jobs.SyncLinkJob, bufferSize)
	}
	return &Queue{
		shards:    shards,
		closeChan: make(chan struct{}),
		store:     store,
	}
}

func (q *Queue) shardFor(linkID string) chan *jobs.SyncLinkJob {
	h := fnv.New32a()
	h.Write([]byte(linkID))
	return q.shards[int(h.Sum32())%len(q.shards)]
}

// PublishSyncLink implements the Publisher interface.
// It enqueues a link sync job for asynchronous processing.
func (q *Queue) PublishSyncLink(ctx context.Context, job *jobs.SyncLinkJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.LinkID == "" {
		return fmt.Errorf("job link ID is required")
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.shardFor(job.LinkID) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts one worker per shard; a shard's jobs run strictly in order.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for _, shard := range q.shards {
		q.wg.Add(1)
		go q.worker(ctx, shard, handler)
	}
	return nil
}

// worker drains one shard.
func (q *Queue) worker(ctx context.Context, shard chan *jobs.SyncLinkJob, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-shard:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.SyncLinkJob, handler jobs.JobHandler) {
	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying

			// Re-enqueue with backoff. The retry lands on the same shard,
			// so ordering against newer jobs for the link is preserved at
			// the point of re-entry.
			backoff := time.Duration(job.RetryCount) * time.Second
			time.AfterFunc(backoff, func() {
				job.Status = jobs.JobStatusPending
				job.StartedAt = nil
				job.CompletedAt = nil
				_ = q.PublishSyncLink(ctx, job)
			})
		} else {
			job.Status = jobs.JobStatusFailed
		}
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
