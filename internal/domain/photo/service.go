package photo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snapvault/snapvault-api/internal/pkg/logger"
	"github.com/snapvault/snapvault-api/internal/queue"
)

// ObjectStore is the slice of the storage client the coordinator uses.
type ObjectStore interface {
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteMany(ctx context.Context, keys []string) int
}

// Enqueuer hands processing jobs to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// AlbumStore checks album existence; albums themselves are owned
// elsewhere.
type AlbumStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Service coordinates uploads: it issues scoped write credentials and,
// on confirmation, records the photo and enqueues its processing job.
type Service struct {
	repo       Repository
	albums     AlbumStore
	store      ObjectStore
	jobs       Enqueuer
	presignTTL time.Duration
}

// NewService creates the upload coordinator.
func NewService(repo Repository, albums AlbumStore, store ObjectStore, jobs Enqueuer, presignTTL time.Duration) *Service {
	return &Service{
		repo:       repo,
		albums:     albums,
		store:      store,
		jobs:       jobs,
		presignTTL: presignTTL,
	}
}

// RequestUpload derives a fresh key under the album's original
// namespace and returns a presigned PUT URL for it. Nothing is
// persisted until the client confirms.
func (s *Service) RequestUpload(ctx context.Context, albumID uuid.UUID, fileName, contentType string, sizeBytes int64) (*PresignResponse, error) {
	exists, err := s.albums.Exists(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("check album: %w", err)
	}
	if !exists {
		return nil, ErrAlbumNotFound
	}

	key := fmt.Sprintf("albums/%s/original/%s%s", albumID, uuid.New(), extFor(fileName, contentType))

	url, err := s.store.PresignUpload(ctx, key, contentType, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	return &PresignResponse{KeyOriginal: key, UploadURL: url}, nil
}

// ConfirmUpload records a completed upload and enqueues its processing
// job. Confirming the same (albumID, key) again returns the existing
// record unchanged and re-enqueues the job, which covers a previously
// lost or failed job without creating duplicate rows.
func (s *Service) ConfirmUpload(ctx context.Context, albumID uuid.UUID, keyOriginal string, meta Metadata) (*Photo, error) {
	exists, err := s.albums.Exists(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("check album: %w", err)
	}
	if !exists {
		return nil, ErrAlbumNotFound
	}

	if !strings.HasPrefix(keyOriginal, fmt.Sprintf("albums/%s/original/", albumID)) {
		return nil, ErrInvalidKey
	}

	existing, err := s.repo.FindByAlbumAndKey(ctx, albumID, keyOriginal)
	if err != nil {
		return nil, fmt.Errorf("find photo: %w", err)
	}
	if existing != nil {
		if err := s.enqueueJob(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	p := &Photo{
		ID:          uuid.New(),
		AlbumID:     albumID,
		KeyOriginal: keyOriginal,
		Status:      StatusPending,
		Width:       meta.Width,
		Height:      meta.Height,
		MimeType:    meta.MimeType,
		SizeBytes:   meta.SizeBytes,
		Checksum:    meta.Checksum,
		Caption:     meta.Caption,
		CreatedAt:   time.Now(),
	}

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("create photo: %w", err)
	}
	if created == nil {
		// Conflict row vanished between insert and re-select.
		return nil, ErrPhotoNotFound
	}

	if err := s.enqueueJob(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

// GetByID returns a photo or ErrPhotoNotFound.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Photo, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPhotoNotFound
	}
	return p, nil
}

// ListByAlbum returns an album's photos in display order.
func (s *Service) ListByAlbum(ctx context.Context, albumID uuid.UUID) ([]*Photo, error) {
	exists, err := s.albums.Exists(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("check album: %w", err)
	}
	if !exists {
		return nil, ErrAlbumNotFound
	}
	return s.repo.ListByAlbum(ctx, albumID)
}

// Delete removes the photo row and best-effort deletes its objects.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPhotoNotFound
	}

	keys := []string{p.KeyOriginal}
	if p.HasThumb() {
		keys = append(keys, *p.KeyThumb)
	}
	deleted := s.store.DeleteMany(ctx, keys)
	logger.FromContext(ctx).Info().
		Str("photo_id", p.ID.String()).
		Int("objects_deleted", deleted).
		Msg("photo objects deleted")

	return s.repo.Delete(ctx, id)
}

// DownloadURL presigns a read for the photo's thumbnail, falling back
// to the original while processing is still pending.
func (s *Service) DownloadURL(ctx context.Context, p *Photo) (string, error) {
	key := p.KeyOriginal
	if p.HasThumb() {
		key = *p.KeyThumb
	}
	return s.store.PresignDownload(ctx, key, s.presignTTL)
}

func (s *Service) enqueueJob(ctx context.Context, p *Photo) error {
	job := queue.Job{
		PhotoID:     p.ID.String(),
		AlbumID:     p.AlbumID.String(),
		KeyOriginal: p.KeyOriginal,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// extFor picks the object extension from the file name, then from the
// content type, then a generic binary fallback the worker can still
// re-encode.
func extFor(fileName, contentType string) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" {
		return ext
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
