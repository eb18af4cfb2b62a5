package photo

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snapvault/snapvault-api/internal/pkg/response"
	"github.com/snapvault/snapvault-api/internal/pkg/validator"
)

// Handler handles photo HTTP requests
type Handler struct {
	service *Service
}

// NewHandler creates photo handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Presign handles POST /uploads/presign
func (h *Handler) Presign(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	albumID, err := uuid.Parse(req.AlbumID)
	if err != nil {
		response.BadRequest(w, "Invalid album id")
		return
	}

	result, err := h.service.RequestUpload(r.Context(), albumID, req.FileName, req.ContentType, req.SizeBytes)
	if err != nil {
		if errors.Is(err, ErrAlbumNotFound) {
			response.NotFound(w, "Album not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, result)
}

// Confirm handles POST /photos/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	albumID, err := uuid.Parse(req.AlbumID)
	if err != nil {
		response.BadRequest(w, "Invalid album id")
		return
	}

	p, err := h.service.ConfirmUpload(r.Context(), albumID, req.KeyOriginal, req.metadata())
	if err != nil {
		switch {
		case errors.Is(err, ErrAlbumNotFound):
			response.NotFound(w, "Album not found")
		case errors.Is(err, ErrInvalidKey):
			response.BadRequest(w, "Key outside the album's upload namespace")
		default:
			response.InternalError(w)
		}
		return
	}

	response.Created(w, p)
}

// ListByAlbum handles GET /albums/{albumID}/photos
func (h *Handler) ListByAlbum(w http.ResponseWriter, r *http.Request) {
	albumID, err := uuid.Parse(chi.URLParam(r, "albumID"))
	if err != nil {
		response.BadRequest(w, "Invalid album id")
		return
	}

	photos, err := h.service.ListByAlbum(r.Context(), albumID)
	if err != nil {
		if errors.Is(err, ErrAlbumNotFound) {
			response.NotFound(w, "Album not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.OK(w, photos)
}

// Download handles GET /photos/{id}/download
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid photo id")
		return
	}

	p, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPhotoNotFound) {
			response.NotFound(w, "Photo not found")
			return
		}
		response.InternalError(w)
		return
	}

	url, err := h.service.DownloadURL(r.Context(), p)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]string{"url": url})
}

// Delete handles DELETE /photos/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid photo id")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrPhotoNotFound) {
			response.NotFound(w, "Photo not found")
			return
		}
		response.InternalError(w)
		return
	}

	response.NoContent(w)
}
