package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis keys. A single logical queue is enough for the pipeline.
const (
	keyJobs    = "imgq:jobs"    // jobID -> payload
	keyReady   = "imgq:ready"   // list of jobIDs ready to run
	keyDelayed = "imgq:delayed" // zset jobID -> retry-at (unix ms)
	keyActive  = "imgq:active"  // zset jobID -> claimed-at (unix ms)
	keyFailed  = "imgq:failed"  // capped list of failure records
)

const dequeueBlock = 2 * time.Second

// Job is the unit of work bridging the web tier and the worker.
type Job struct {
	PhotoID     string `json:"photoId"`
	AlbumID     string `json:"albumId"`
	KeyOriginal string `json:"keyOriginal"`
	Attempts    int    `json:"attempts"`
}

// JobID derives the deterministic job identity for a photo. Duplicate
// enqueue attempts for the same photo collapse onto this key.
func JobID(photoID string) string {
	return "photo-" + photoID
}

// Delivery is a claimed job. It must be settled with Ack or Nack.
type Delivery struct {
	ID  string
	Job Job
}

// FailureRecord is kept for operator inspection after retries are
// exhausted.
type FailureRecord struct {
	JobID    string    `json:"jobId"`
	PhotoID  string    `json:"photoId"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failedAt"`
}

// Options tune retry and retention behavior.
type Options struct {
	MaxAttempts       int           // attempts before a job is abandoned
	BackoffBase       time.Duration // first retry delay, doubled per attempt
	VisibilityTimeout time.Duration // claimed jobs older than this are redelivered
	KeepFailed        int64         // failure records retained
}

// DefaultOptions mirrors the queue limits of the upload pipeline.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		VisibilityTimeout: 2 * time.Minute,
		KeepFailed:        1000,
	}
}

// Queue is a Redis-backed, at-least-once job queue with deterministic
// job identity, exponential retry backoff and stalled-job recovery.
type Queue struct {
	rdb  *redis.Client
	opts Options
}

// New creates a queue on an existing Redis client.
func New(rdb *redis.Client, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultOptions().MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultOptions().BackoffBase
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultOptions().VisibilityTimeout
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = DefaultOptions().KeepFailed
	}
	return &Queue{rdb: rdb, opts: opts}
}

// Enqueue registers a job under its deterministic identity. A job
// already queued or in flight for the same photo is left untouched.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	id := JobID(job.PhotoID)
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	set, err := q.rdb.HSetNX(ctx, keyJobs, id, payload).Result()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	if !set {
		log.Debug().Str("job_id", id).Msg("job already queued, skipping")
		q.requeueIfOrphaned(ctx, id)
		return nil
	}

	if err := q.rdb.LPush(ctx, keyReady, id).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	log.Debug().Str("job_id", id).Str("key", job.KeyOriginal).Msg("job enqueued")
	return nil
}

// requeueIfOrphaned puts a known job back on the ready list when its
// id sits on no schedule. A crash between the ready pop and the active
// claim strands the payload in the jobs hash; because enqueue dedups
// against that hash, a later enqueue is the recovery path and must
// notice the orphan instead of silently no-opping.
func (q *Queue) requeueIfOrphaned(ctx context.Context, id string) {
	if err := q.rdb.LPos(ctx, keyReady, id, redis.LPosArgs{}).Err(); err == nil {
		return
	}
	if err := q.rdb.ZScore(ctx, keyDelayed, id).Err(); err == nil {
		return
	}
	if err := q.rdb.ZScore(ctx, keyActive, id).Err(); err == nil {
		return
	}

	if err := q.rdb.LPush(ctx, keyReady, id).Err(); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("requeue orphaned job failed")
		return
	}
	log.Warn().Str("job_id", id).Msg("orphaned job requeued")
}

// Dequeue blocks until a job is available or ctx is done. Delayed
// retries and stalled claims that came due are promoted first.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.promoteDue(ctx)
		q.reclaimStalled(ctx)

		res, err := q.rdb.BRPop(ctx, dequeueBlock, keyReady).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue: %w", err)
		}

		id := res[1]
		payload, err := q.rdb.HGet(ctx, keyJobs, id).Result()
		if errors.Is(err, redis.Nil) {
			// Settled or pruned while waiting in the ready list.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dequeue %s: %w", id, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			log.Error().Err(err).Str("job_id", id).Msg("dropping undecodable job payload")
			q.rdb.HDel(ctx, keyJobs, id)
			continue
		}

		if err := q.rdb.ZAdd(ctx, keyActive, redis.Z{
			Score:  float64(time.Now().UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			// Without the claim the id is on no schedule; put it back
			// so the job stays deliverable.
			q.rdb.LPush(ctx, keyReady, id)
			return nil, fmt.Errorf("claim %s: %w", id, err)
		}

		return &Delivery{ID: id, Job: job}, nil
	}
}

// Ack settles a delivery as done and frees its identity for future
// enqueues.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, keyActive, d.ID)
	pipe.HDel(ctx, keyJobs, d.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack settles a delivery as failed. Retryable failures go back on the
// delayed schedule with exponential backoff; permanent failures and
// exhausted jobs move to the failure list.
func (q *Queue) Nack(ctx context.Context, d *Delivery, cause error, permanent bool) error {
	attempts := d.Job.Attempts + 1

	if permanent || attempts >= q.opts.MaxAttempts {
		return q.fail(ctx, d, cause, attempts)
	}

	retry := d.Job
	retry.Attempts = attempts
	payload, err := json.Marshal(retry)
	if err != nil {
		return fmt.Errorf("marshal retry: %w", err)
	}

	delay := q.retryDelay(attempts)
	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, keyActive, d.ID)
	pipe.HSet(ctx, keyJobs, d.ID, payload)
	pipe.ZAdd(ctx, keyDelayed, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: d.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("nack %s: %w", d.ID, err)
	}

	log.Warn().
		Str("job_id", d.ID).
		Int("attempts", attempts).
		Dur("retry_in", delay).
		Err(cause).
		Msg("job failed, scheduled for retry")
	return nil
}

func (q *Queue) fail(ctx context.Context, d *Delivery, cause error, attempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	record, err := json.Marshal(FailureRecord{
		JobID:    d.ID,
		PhotoID:  d.Job.PhotoID,
		Error:    msg,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal failure record: %w", err)
	}

	pipe := q.rdb.Pipeline()
	pipe.ZRem(ctx, keyActive, d.ID)
	pipe.HDel(ctx, keyJobs, d.ID)
	pipe.LPush(ctx, keyFailed, record)
	pipe.LTrim(ctx, keyFailed, 0, q.opts.KeepFailed-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail %s: %w", d.ID, err)
	}

	log.Error().
		Str("job_id", d.ID).
		Int("attempts", attempts).
		Err(cause).
		Msg("job abandoned after retries")
	return nil
}

// retryDelay doubles the base delay per attempt already made.
func (q *Queue) retryDelay(attempts int) time.Duration {
	return q.opts.BackoffBase << (attempts - 1)
}

// promoteDue moves delayed jobs whose retry time has passed back onto
// the ready list.
func (q *Queue) promoteDue(ctx context.Context) {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	pipe := q.rdb.Pipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, keyDelayed, id)
		pipe.LPush(ctx, keyReady, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Msg("promote delayed jobs failed")
	}
}

// reclaimStalled redelivers jobs claimed by a worker that never
// settled them, e.g. after a crash. The photo record is still pending
// in that case, so redelivery is safe.
func (q *Queue) reclaimStalled(ctx context.Context) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-q.opts.VisibilityTimeout).UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, keyActive, &redis.ZRangeBy{
		Min: "-inf", Max: cutoff, Count: 100,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	pipe := q.rdb.Pipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, keyActive, id)
		pipe.LPush(ctx, keyReady, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Msg("reclaim stalled jobs failed")
		return
	}
	for _, id := range ids {
		log.Warn().Str("job_id", id).Msg("stalled job redelivered")
	}
}

// PendingCount reports jobs waiting to run (ready plus delayed).
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	ready, err := q.rdb.LLen(ctx, keyReady).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, keyDelayed).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

// FailedCount reports retained failure records.
func (q *Queue) FailedCount(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, keyFailed).Result()
}
