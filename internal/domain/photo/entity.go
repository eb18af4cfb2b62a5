package photo

import (
	"time"

	"github.com/google/uuid"
)

// Status is the photo's processing state. There is deliberately no
// "processing" value: a crash mid-job leaves the record at pending,
// which is safe for redelivery without leases or heartbeats.
type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusError     Status = "error"
)

// Photo is the authoritative record of an uploaded image. The file
// bytes live in object storage; this row tracks keys, metadata and
// processing state.
type Photo struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AlbumID     uuid.UUID `db:"album_id" json:"album_id"`
	KeyOriginal string    `db:"key_original" json:"key_original"`
	KeyThumb    *string   `db:"key_thumb" json:"key_thumb"`
	Status      Status    `db:"status" json:"status"`
	LastError   *string   `db:"last_error" json:"last_error"`

	// Descriptive metadata, client-supplied at confirm time and
	// overwritten with worker-derived values when available.
	Width     *int    `db:"width" json:"width"`
	Height    *int    `db:"height" json:"height"`
	MimeType  *string `db:"mime_type" json:"mime_type"`
	SizeBytes *int64  `db:"size_bytes" json:"size_bytes"`
	Checksum  *string `db:"checksum" json:"checksum"`

	Caption   *string   `db:"caption" json:"caption"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// HasThumb reports whether a derivative key has been recorded.
func (p *Photo) HasThumb() bool {
	return p.KeyThumb != nil && *p.KeyThumb != ""
}

// IsProcessed reports whether processing completed successfully.
func (p *Photo) IsProcessed() bool {
	return p.Status == StatusProcessed
}
