package affiliates

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Handler serves afiliado lookups.
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

// SearchResponse is the predictive search payload.
type SearchResponse struct {
	Query   string     `json:"query"`
	Results []Afiliado `json:"results"`
	Count   int        `json:"count"`
}

// Search handles GET /afiliados/search?q=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("q")
	results, err := h.service.Search(r.Context(), raw, respond.QueryInt(r, "limit", DefaultLimit))
	if err != nil {
		if errors.Is(err, ErrQueryTooShort) {
			respond.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("afiliado search failed", "error", err)
		respond.Error(w, "search unavailable", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, SearchResponse{Query: raw, Results: results, Count: len(results)})
}

// Get handles GET /afiliados/{tipo}/{numero}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Get(r.Context(), chi.URLParam(r, "tipo"), chi.URLParam(r, "numero"))
	if err != nil {
		if errors.Is(err, ErrAfiliadoNotFound) {
			respond.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("afiliado lookup failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, a)
}
