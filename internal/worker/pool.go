package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/snapvault/snapvault-api/internal/queue"
)

// jobTimeout bounds a single job run end to end.
const jobTimeout = 2 * time.Minute

// Pool runs a fixed number of concurrent job consumers against the
// shared queue. The pool size bounds image-processing CPU and memory.
type Pool struct {
	queue     *queue.Queue
	processor *Processor
	size      int
}

// NewPool creates a worker pool of the given size.
func NewPool(q *queue.Queue, processor *Processor, size int) *Pool {
	if size <= 0 {
		size = 4
	}
	return &Pool{queue: q, processor: processor, size: size}
}

// Run blocks until ctx is canceled. On shutdown the consumers stop
// dequeuing; jobs already claimed run to completion on a detached
// context, and anything truly abandoned is redelivered by the queue's
// visibility timeout.
func (p *Pool) Run(ctx context.Context) error {
	log.Info().Int("concurrency", p.size).Msg("worker pool started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i
		g.Go(func() error {
			return p.consume(ctx, id)
		})
	}

	err := g.Wait()
	log.Info().Msg("worker pool stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context, workerID int) error {
	for {
		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			log.Error().Err(err).Int("worker", workerID).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		p.handle(ctx, workerID, delivery)
	}
}

func (p *Pool) handle(ctx context.Context, workerID int, delivery *queue.Delivery) {
	// Detached from the pool context so an in-flight job survives
	// shutdown instead of half-finishing.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
	defer cancel()

	start := time.Now()
	res, err := p.processor.Process(jobCtx, delivery.Job)
	if err != nil {
		permanent := Permanent(err)

		event := log.Error()
		if errors.Is(err, ErrAlbumMismatch) {
			// Data integrity problem, not a processing failure; make it
			// stand out for the operator.
			event = log.Error().Str("alert", "state_consistency")
		}
		event.
			Err(err).
			Int("worker", workerID).
			Str("job_id", delivery.ID).
			Str("photo_id", delivery.Job.PhotoID).
			Bool("permanent", permanent).
			Msg("job failed")

		if nackErr := p.queue.Nack(jobCtx, delivery, err, permanent); nackErr != nil {
			log.Error().Err(nackErr).Str("job_id", delivery.ID).Msg("nack failed, job will be redelivered by visibility timeout")
		}
		return
	}

	if ackErr := p.queue.Ack(jobCtx, delivery); ackErr != nil {
		log.Error().Err(ackErr).Str("job_id", delivery.ID).Msg("ack failed, job will be redelivered by visibility timeout")
	}

	if res.Skipped {
		log.Debug().
			Int("worker", workerID).
			Str("job_id", delivery.ID).
			Str("reason", res.Reason).
			Msg("job skipped")
		return
	}

	log.Info().
		Int("worker", workerID).
		Str("job_id", delivery.ID).
		Str("key_thumb", res.KeyThumb).
		Int("width", res.Width).
		Int("height", res.Height).
		Dur("took", time.Since(start)).
		Msg("thumbnail processed")
}
