package photo

import "errors"

var (
	ErrPhotoNotFound = errors.New("photo not found")
	ErrAlbumNotFound = errors.New("album not found")
	ErrInvalidKey    = errors.New("key outside the album's original namespace")
)
