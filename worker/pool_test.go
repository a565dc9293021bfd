package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"notesworker/config"
	"notesworker/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type stubProcessor struct {
	err   error
	calls int
	last  string
}

func (s *stubProcessor) ProcessMedia(ctx context.Context, mediaID, requesterID string) (models.JobResult, error) {
	s.calls++
	s.last = mediaID + "/" + requesterID
	return models.JobResult{Transcript: "t", Notes: "n"}, s.err
}

func newTestPool(t *testing.T, processor MediaProcessor) (*Pool, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		PendingQueue:    "notes:pending",
		ProcessingQueue: "notes:processing",
		FailedQueue:     "notes:failed",
		JobTimeout:      60,
		JobMaxRetries:   2,
		StaleAfter:      20 * time.Minute,
	}
	pool := NewPool(cfg, client, processor, zerolog.Nop())
	pool.retryDelay = func(int) time.Duration { return 0 }
	return pool, mr
}

func queuedJob(t *testing.T, pool *Pool, mr *miniredis.Miniredis, job models.ProcessRequest) string {
	t.Helper()

	payload, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mr.Lpush(pool.config.ProcessingQueue, string(payload)); err != nil {
		t.Fatal(err)
	}
	return string(payload)
}

func listLen(t *testing.T, mr *miniredis.Miniredis, key string) int {
	t.Helper()
	if !mr.Exists(key) {
		return 0
	}
	items, err := mr.List(key)
	if err != nil {
		t.Fatalf("failed to read %s: %v", key, err)
	}
	return len(items)
}

func TestPool_ProcessJobSuccess(t *testing.T) {
	processor := &stubProcessor{}
	pool, mr := newTestPool(t, processor)

	job := models.ProcessRequest{MediaID: "X1", RequesterID: "alice", MaxRetries: 2, Timeout: 60, CreatedAt: time.Now()}
	payload := queuedJob(t, pool, mr, job)

	pool.processJob(context.Background(), 1, &job, payload)

	if processor.calls != 1 || processor.last != "X1/alice" {
		t.Fatalf("unexpected processor calls=%d last=%q", processor.calls, processor.last)
	}
	if n := listLen(t, mr, "notes:processing"); n != 0 {
		t.Fatalf("expected processing queue to be drained, has %d", n)
	}
	if got := mr.HGet("notes:status:X1", "status"); got != "completed" {
		t.Fatalf("expected completed status, got %q", got)
	}
}

func TestPool_ServiceFailureIsRetried(t *testing.T) {
	processor := &stubProcessor{err: &models.PipelineError{Stage: models.StageTranscribe, Err: models.ErrTranscriptionFailed}}
	pool, mr := newTestPool(t, processor)

	job := models.ProcessRequest{MediaID: "X1", RequesterID: "alice", MaxRetries: 2, Timeout: 60, CreatedAt: time.Now()}
	payload := queuedJob(t, pool, mr, job)

	pool.processJob(context.Background(), 1, &job, payload)

	deadline := time.Now().Add(2 * time.Second)
	for listLen(t, mr, "notes:pending") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected retry to be requeued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	items, _ := mr.List("notes:pending")
	var requeued models.ProcessRequest
	if err := json.Unmarshal([]byte(items[0]), &requeued); err != nil {
		t.Fatal(err)
	}
	if requeued.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", requeued.RetryCount)
	}
	if n := listLen(t, mr, "notes:failed"); n != 0 {
		t.Fatalf("expected nothing in failed queue, has %d", n)
	}
}

func TestPool_InputFailureGoesStraightToFailedQueue(t *testing.T) {
	processor := &stubProcessor{err: &models.PipelineError{Stage: models.StageResolve, Err: models.ErrNoManifestsFound}}
	pool, mr := newTestPool(t, processor)

	job := models.ProcessRequest{MediaID: "X1", RequesterID: "alice", MaxRetries: 2, Timeout: 60, CreatedAt: time.Now()}
	payload := queuedJob(t, pool, mr, job)

	pool.processJob(context.Background(), 1, &job, payload)

	if n := listLen(t, mr, "notes:failed"); n != 1 {
		t.Fatalf("expected 1 failed job, got %d", n)
	}
	if n := listLen(t, mr, "notes:processing"); n != 0 {
		t.Fatalf("expected processing queue to be drained, has %d", n)
	}
	if got := mr.HGet("notes:status:X1", "stage"); got != models.StageResolve {
		t.Fatalf("expected resolve stage in status, got %q", got)
	}
}

func TestPool_RecoverStaleJobs(t *testing.T) {
	pool, mr := newTestPool(t, &stubProcessor{})

	queuedJob(t, pool, mr, models.ProcessRequest{MediaID: "fresh", MaxRetries: 2, CreatedAt: time.Now()})
	queuedJob(t, pool, mr, models.ProcessRequest{MediaID: "stale", MaxRetries: 2, CreatedAt: time.Now().Add(-time.Hour)})
	queuedJob(t, pool, mr, models.ProcessRequest{MediaID: "dead", RetryCount: 2, MaxRetries: 2, CreatedAt: time.Now().Add(-time.Hour)})

	pool.recoverStaleJobs(context.Background())

	if n := listLen(t, mr, "notes:processing"); n != 1 {
		t.Fatalf("expected only the fresh job to remain, got %d", n)
	}
	if n := listLen(t, mr, "notes:pending"); n != 1 {
		t.Fatalf("expected one requeued job, got %d", n)
	}
	if n := listLen(t, mr, "notes:failed"); n != 1 {
		t.Fatalf("expected one failed job, got %d", n)
	}
}

func TestPool_Enqueue(t *testing.T) {
	pool, mr := newTestPool(t, &stubProcessor{})

	if err := pool.Enqueue(context.Background(), "X1", "alice"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	items, err := mr.List("notes:pending")
	if err != nil || len(items) != 1 {
		t.Fatalf("expected one pending job, got %v (err=%v)", items, err)
	}
	var job models.ProcessRequest
	if err := json.Unmarshal([]byte(items[0]), &job); err != nil {
		t.Fatal(err)
	}
	if job.MediaID != "X1" || job.RequesterID != "alice" || job.MaxRetries != 2 || job.Timeout != 60 {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestBackoffIsCapped(t *testing.T) {
	if got := backoff(1); got != 2*time.Second {
		t.Fatalf("expected 2s, got %v", got)
	}
	if got := backoff(10); got != 30*time.Second {
		t.Fatalf("expected cap at 30s, got %v", got)
	}
}
