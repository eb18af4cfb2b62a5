package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/snapvault/snapvault-api/internal/domain/photo"
	"github.com/snapvault/snapvault-api/internal/pkg/imaging"
	"github.com/snapvault/snapvault-api/internal/pkg/objstore"
	"github.com/snapvault/snapvault-api/internal/queue"
)

// Skip reasons. A skipped job is a successful no-op, not a failure.
const (
	SkipNotFound         = "not_found"
	SkipStaleJobKey      = "stale_job_key"
	SkipAlreadyProcessed = "already_processed"
	SkipAlreadyHasThumb  = "already_has_thumb"
)

var (
	// ErrAlbumMismatch means the job disagrees with the record about
	// which album owns the photo. That points at corrupted or
	// malicious job data, so it is logged distinctly and not retried.
	ErrAlbumMismatch = errors.New("album_mismatch")

	// ErrInvalidOriginalKey means the job's key is outside the
	// original namespace.
	ErrInvalidOriginalKey = errors.New("invalid_original_key")
)

// Headers applied to every uploaded derivative. Thumbnails are
// immutable: a new derivative always gets a new key.
var thumbPutOptions = objstore.PutOptions{
	CacheControl:       "public, max-age=31536000, immutable",
	ContentDisposition: "inline",
}

// PhotoStore is the slice of the photo repository the worker mutates.
type PhotoStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*photo.Photo, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, keyThumb string, width, height *int) error
	MarkError(ctx context.Context, id uuid.UUID, msg string) error
}

// ObjectStore is the slice of the storage client the worker uses.
type ObjectStore interface {
	FetchWithRetry(ctx context.Context, key string, maxAttempts int) ([]byte, error)
	StoreWithRetry(ctx context.Context, key string, data []byte, contentType string, opts objstore.PutOptions, maxAttempts int) error
}

// Result reports what a processed job did.
type Result struct {
	Skipped  bool
	Reason   string
	KeyThumb string
	Width    int
	Height   int
}

// Processor runs the per-job processing state machine.
type Processor struct {
	photos   PhotoStore
	store    ObjectStore
	proc     *imaging.Processor
	attempts int
}

// NewProcessor creates a job processor. attempts bounds the storage
// fetch/store retries inside a single job run.
func NewProcessor(photos PhotoStore, store ObjectStore, proc *imaging.Processor, attempts int) *Processor {
	if attempts <= 0 {
		attempts = objstore.DefaultAttempts
	}
	return &Processor{photos: photos, store: store, proc: proc, attempts: attempts}
}

// Process runs one job to completion. Every returned error has already
// been persisted to the photo record, so the authoritative state
// reflects the failure even if the caller drops the error. The guard
// sequence makes redelivered and stale jobs converge to a no-op.
func (p *Processor) Process(ctx context.Context, job queue.Job) (*Result, error) {
	id, err := uuid.Parse(job.PhotoID)
	if err != nil {
		// A job for an id that cannot exist; drop it like a deleted photo.
		return &Result{Skipped: true, Reason: SkipNotFound}, nil
	}

	current, err := p.photos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load photo: %w", err)
	}
	if current == nil {
		// Photo deleted while the job was queued; drop silently.
		return &Result{Skipped: true, Reason: SkipNotFound}, nil
	}

	if current.AlbumID.String() != job.AlbumID {
		return nil, p.fail(ctx, id, ErrAlbumMismatch)
	}

	if current.KeyOriginal != job.KeyOriginal {
		// A newer confirm superseded this job. Exit quietly so the
		// stale job cannot clobber the newer photo state.
		return &Result{Skipped: true, Reason: SkipStaleJobKey}, nil
	}

	if current.IsProcessed() && current.HasThumb() {
		return &Result{Skipped: true, Reason: SkipAlreadyProcessed, KeyThumb: *current.KeyThumb}, nil
	}
	if current.HasThumb() {
		return &Result{Skipped: true, Reason: SkipAlreadyHasThumb, KeyThumb: *current.KeyThumb}, nil
	}

	if !imaging.OriginalKeyPattern.MatchString(job.KeyOriginal) {
		return nil, p.fail(ctx, id, ErrInvalidOriginalKey)
	}

	original, err := p.store.FetchWithRetry(ctx, job.KeyOriginal, p.attempts)
	if err != nil {
		return nil, p.fail(ctx, id, err)
	}

	deriv, err := p.proc.Normalize(original)
	if err != nil {
		return nil, p.fail(ctx, id, err)
	}

	keyThumb := imaging.ThumbKey(job.KeyOriginal)
	if err := p.store.StoreWithRetry(ctx, keyThumb, deriv.Data, deriv.MIME, thumbPutOptions, p.attempts); err != nil {
		return nil, p.fail(ctx, id, fmt.Errorf("putObject: %w", err))
	}

	width, height := deriv.Width, deriv.Height
	if err := p.photos.MarkProcessed(ctx, id, keyThumb, &width, &height); err != nil {
		return nil, fmt.Errorf("mark processed: %w", err)
	}

	return &Result{KeyThumb: keyThumb, Width: width, Height: height}, nil
}

// fail persists the failure to the photo record, then hands the cause
// back so the queue's retry policy still governs redelivery.
func (p *Processor) fail(ctx context.Context, id uuid.UUID, cause error) error {
	if err := p.photos.MarkError(ctx, id, cause.Error()); err != nil {
		log.Error().Err(err).Str("photo_id", id.String()).Msg("failed to record error state")
	}
	return cause
}

// Permanent reports whether err cannot succeed on a later attempt:
// a missing original, an animated source, a malformed key or a
// job/record mismatch re-errors identically every time, so such jobs
// go straight to the failure list instead of the backoff schedule.
func Permanent(err error) bool {
	var animErr *imaging.AnimatedError
	if errors.As(err, &animErr) {
		return true
	}
	if errors.Is(err, ErrAlbumMismatch) || errors.Is(err, ErrInvalidOriginalKey) {
		return true
	}
	return objstore.IsNotFound(err)
}
