package photo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const maxErrorLen = 1000

// Repository defines photo data access. All mutations are single-row
// updates keyed by id; no multi-row transactions are needed in the
// pipeline.
type Repository interface {
	// Create inserts a photo. A concurrent insert for the same
	// (album_id, key_original) pair returns the existing row instead
	// of a duplicate.
	Create(ctx context.Context, p *Photo) (*Photo, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Photo, error)
	FindByAlbumAndKey(ctx context.Context, albumID uuid.UUID, keyOriginal string) (*Photo, error)
	ListByAlbum(ctx context.Context, albumID uuid.UUID) ([]*Photo, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// MarkProcessed records a successful derivative: sets key_thumb,
	// dimensions (keeping prior values when nil), status=processed and
	// clears last_error.
	MarkProcessed(ctx context.Context, id uuid.UUID, keyThumb string, width, height *int) error

	// MarkError records a failure before it propagates to the queue.
	MarkError(ctx context.Context, id uuid.UUID, msg string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates photo repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, p *Photo) (*Photo, error) {
	query := `
		INSERT INTO photos (
			id, album_id, key_original, key_thumb, status, last_error,
			width, height, mime_type, size_bytes, checksum,
			caption, sort_order, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		)
		ON CONFLICT (album_id, key_original) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query,
		p.ID, p.AlbumID, p.KeyOriginal, p.KeyThumb, p.Status, p.LastError,
		p.Width, p.Height, p.MimeType, p.SizeBytes, p.Checksum,
		p.Caption, p.SortOrder, p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Lost the race to a concurrent confirm; the existing row wins.
		return r.FindByAlbumAndKey(ctx, p.AlbumID, p.KeyOriginal)
	}
	return p, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Photo, error) {
	var p Photo
	err := r.db.GetContext(ctx, &p, `SELECT * FROM photos WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) FindByAlbumAndKey(ctx context.Context, albumID uuid.UUID, keyOriginal string) (*Photo, error) {
	var p Photo
	query := `SELECT * FROM photos WHERE album_id = $1 AND key_original = $2`
	err := r.db.GetContext(ctx, &p, query, albumID, keyOriginal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) ListByAlbum(ctx context.Context, albumID uuid.UUID) ([]*Photo, error) {
	var photos []*Photo
	query := `
		SELECT * FROM photos
		WHERE album_id = $1
		ORDER BY sort_order ASC, created_at ASC
	`
	err := r.db.SelectContext(ctx, &photos, query, albumID)
	return photos, err
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id)
	return err
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, keyThumb string, width, height *int) error {
	query := `
		UPDATE photos SET
			key_thumb = $2,
			width = COALESCE($3, width),
			height = COALESCE($4, height),
			status = 'processed',
			last_error = NULL
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, keyThumb, width, height)
	return err
}

func (r *repository) MarkError(ctx context.Context, id uuid.UUID, msg string) error {
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	query := `
		UPDATE photos SET
			status = 'error',
			last_error = $2
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, msg)
	return err
}
