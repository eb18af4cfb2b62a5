package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, Options{})
}

func testJob() Job {
	return Job{
		PhotoID:     "11111111-2222-3333-4444-555555555555",
		AlbumID:     "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		KeyOriginal: "albums/aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee/original/x.jpg",
	}
}

func TestJobIDDeterministic(t *testing.T) {
	if JobID("ph_123") != "photo-ph_123" {
		t.Fatalf("JobID = %q", JobID("ph_123"))
	}
	if JobID("ph_123") != JobID("ph_123") {
		t.Fatal("JobID must be deterministic")
	}
}

func TestRetryDelayDoubles(t *testing.T) {
	q := New(nil, Options{BackoffBase: 2 * time.Second})

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := q.retryDelay(i + 1); got != w {
			t.Fatalf("retryDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	q := New(nil, Options{})

	if q.opts.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", q.opts.MaxAttempts)
	}
	if q.opts.KeepFailed != 1000 {
		t.Fatalf("KeepFailed = %d, want 1000", q.opts.KeepFailed)
	}
	if q.opts.VisibilityTimeout != 2*time.Minute {
		t.Fatalf("VisibilityTimeout = %v", q.opts.VisibilityTimeout)
	}
}

func TestEnqueueDedup(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	pending, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("pending = %d, want 1 after duplicate enqueue", pending)
	}
}

func TestEnqueueRequeuesOrphanedJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	job := testJob()

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Pop the ready entry without recording a claim, as a worker crash
	// between those two steps would. The payload stays in the jobs
	// hash, so a plain dedup would reject the recovery enqueue.
	if err := q.rdb.RPop(ctx, keyReady).Err(); err != nil {
		t.Fatalf("RPop: %v", err)
	}
	pending, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 0 {
		t.Fatalf("pending = %d, want 0 after simulated crash", pending)
	}

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("recovery Enqueue: %v", err)
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if d.ID != JobID(job.PhotoID) || d.Job.KeyOriginal != job.KeyOriginal {
		t.Fatalf("delivery = %+v", d)
	}
}

func TestEnqueueLeavesScheduledJobAlone(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()
	job := testJob()

	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	// The job is claimed, not orphaned; a confirm retry must not put a
	// second copy on the ready list.
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue while active: %v", err)
	}
	ready, err := q.rdb.LLen(ctx, keyReady).Result()
	if err != nil {
		t.Fatalf("LLen: %v", err)
	}
	if ready != 0 {
		t.Fatalf("ready = %d, want 0 while the job is claimed", ready)
	}
}

func TestDequeueAckSettlesJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if err := q.Ack(ctx, d); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	pending, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 0 {
		t.Fatalf("pending = %d, want 0 after ack", pending)
	}
	failed, err := q.FailedCount(ctx)
	if err != nil {
		t.Fatalf("FailedCount: %v", err)
	}
	if failed != 0 {
		t.Fatalf("failed = %d, want 0 after ack", failed)
	}

	// Identity is freed: the same photo can be enqueued again.
	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("re-Enqueue: %v", err)
	}
	if pending, _ = q.PendingCount(ctx); pending != 1 {
		t.Fatalf("pending = %d, want 1 after re-enqueue", pending)
	}
}

func TestNackSchedulesRetry(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Nack(ctx, d, errors.New("transient"), false); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	delayed, err := q.rdb.ZCard(ctx, keyDelayed).Result()
	if err != nil {
		t.Fatalf("ZCard: %v", err)
	}
	if delayed != 1 {
		t.Fatalf("delayed = %d, want 1 after retryable nack", delayed)
	}
	failed, _ := q.FailedCount(ctx)
	if failed != 0 {
		t.Fatalf("failed = %d, want 0 after retryable nack", failed)
	}
}

func TestNackPermanentMovesToFailedList(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, testJob()); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := q.Nack(ctx, d, errors.New("album_mismatch"), true); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	failed, err := q.FailedCount(ctx)
	if err != nil {
		t.Fatalf("FailedCount: %v", err)
	}
	if failed != 1 {
		t.Fatalf("failed = %d, want 1 after permanent nack", failed)
	}
	pending, _ := q.PendingCount(ctx)
	if pending != 0 {
		t.Fatalf("pending = %d, want 0 after permanent nack", pending)
	}
}
