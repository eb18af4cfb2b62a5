package album

import "errors"

var (
	ErrNotFound  = errors.New("album not found")
	ErrSlugTaken = errors.New("album slug already taken")
)
