package album

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snapvault/snapvault-api/internal/pkg/response"
	"github.com/snapvault/snapvault-api/internal/pkg/validator"
)

// CreateRequest is the album creation payload
type CreateRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
	Slug  string `json:"slug" validate:"omitempty,max=200"`
}

// Handler handles album HTTP requests
type Handler struct {
	repo Repository
}

// NewHandler creates album handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Create handles POST /albums
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}

	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	a := &Album{Title: req.Title, Slug: req.Slug}
	if err := h.repo.Create(r.Context(), a); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			response.Conflict(w, "Album slug already taken")
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, a)
}

// Get handles GET /albums/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid album id")
		return
	}

	a, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		response.InternalError(w)
		return
	}
	if a == nil {
		response.NotFound(w, "Album not found")
		return
	}

	response.OK(w, a)
}

// Routes returns album router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)

	return r
}
