package album

import (
	"time"

	"github.com/google/uuid"
)

// Album owns a set of photos. Only the fields the ingestion pipeline
// reads are modeled here.
type Album struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Title     string    `db:"title" json:"title"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
