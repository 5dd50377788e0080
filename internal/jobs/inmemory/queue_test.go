package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nmorozov/bankfeed/internal/jobs"
	"github.com/nmorozov/bankfeed/internal/jobs/inmemory"
)

func TestQueue_SerializesJobsPerLink(t *testing.T) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(4, 16, store)

	var (
		mu      sync.Mutex
		running = map[string]int{}
		done    sync.WaitGroup
	)
	handler := func(ctx context.Context, job jobs.Job) error {
		defer done.Done()
		sj, ok := job.(*jobs.SyncLinkJob)
		if !ok {
			t.Errorf("unexpected job type %T", job)
			return nil
		}

		mu.Lock()
		running[sj.LinkID]++
		if running[sj.LinkID] > 1 {
			t.Errorf("two jobs for link %s running concurrently", sj.LinkID)
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running[sj.LinkID]--
		mu.Unlock()
		return nil
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	const perLink = 5
	for _, linkID := range []string{"link-a", "link-b", "link-c"} {
		for i := 0; i < perLink; i++ {
			done.Add(1)
			err := queue.PublishSyncLink(context.Background(), &jobs.SyncLinkJob{LinkID: linkID})
			if err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
	}

	waitDone := make(chan struct{})
	go func() {
		done.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs did not drain")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := queue.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	completed, err := store.ListJobs(context.Background(), jobs.JobFilter{Status: jobs.JobStatusCompleted})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(completed) != 3*perLink {
		t.Errorf("completed jobs = %d, want %d", len(completed), 3*perLink)
	}
}

func TestQueue_RetriesFailedJob(t *testing.T) {
	store := inmemory.NewStore()
	queue := inmemory.NewQueue(1, 4, store)

	var (
		mu       sync.Mutex
		attempts int
	)
	finished := make(chan struct{})
	handler := func(ctx context.Context, job jobs.Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("transient provider failure")
		}
		close(finished)
		return nil
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.SyncLinkJob{JobID: "job-1", LinkID: "link-a", MaxRetries: 2}
	if err := queue.PublishSyncLink(context.Background(), job); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("job was not retried")
	}

	// The terminal save can race the channel close by a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, err := store.GetJob(context.Background(), "job-1")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if saved.Status == jobs.JobStatusCompleted {
			if saved.RetryCount != 1 {
				t.Errorf("retry count = %d, want 1", saved.RetryCount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job status = %s, want completed", saved.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = queue.Stop(ctx)
}
