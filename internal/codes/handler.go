package codes

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Handler serves /codigos.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Search handles GET /codigos/{catalog}?q=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.Search(r.Context(), chi.URLParam(r, "catalog"), r.URL.Query().Get("q"), respond.QueryInt(r, "limit", DefaultLimit))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// Semantic handles GET /codigos/{catalog}/semantic?q=
func (h *Handler) Semantic(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.SemanticSearch(r.Context(), chi.URLParam(r, "catalog"), r.URL.Query().Get("q"), respond.QueryInt(r, "limit", 10))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

// Get handles GET /codigos/{catalog}/{code}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	code, err := h.service.Get(r.Context(), chi.URLParam(r, "catalog"), chi.URLParam(r, "code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, code)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownCatalog), errors.Is(err, ErrCodeNotFound):
		respond.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNoEmbedder):
		respond.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		h.logger.Error("code lookup failed", "error", err)
		respond.Error(w, "lookup unavailable", http.StatusInternalServerError)
	}
}
