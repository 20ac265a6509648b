package radicacion

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type collaboratorLookup interface {
	GetByID(ctx context.Context, id string) (*collaborators.Collaborator, error)
}

// Handler serves the /radicados endpoints.
type Handler struct {
	svc    *Service
	people collaboratorLookup
	logger *logging.Logger
}

func NewHandler(svc *Service, people collaboratorLookup, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, people: people, logger: logger}
}

// Routes mounts the handler under the caller's router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/stats", h.Stats)
	r.Get("/numero/{numero}", h.GetByNumero)
	r.Get("/{id}", h.Get)
	r.Get("/{id}/historial", h.History)
	r.Post("/{id}/transiciones", h.Transition)
	r.Post("/{id}/asignar", h.Assign)
}

// Create handles POST /radicados
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	actor, _ := collaborators.FromContext(r.Context())
	rad, err := h.svc.Create(withClientIP(r.Context(), audit.ClientIP(r)), actor, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rad)
}

// List handles GET /radicados
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Estado:    Estado(q.Get("estado")),
		Tipo:      Tipo(q.Get("tipo")),
		AsignadoA: q.Get("asignado_a"),
		Query:     q.Get("q"),
		Page:      respond.QueryInt(r, "page", 1),
		PageSize:  respond.QueryInt(r, "page_size", defaultPageSize),
	}
	if q.Get("mios") == "true" {
		if actor, ok := collaborators.FromContext(r.Context()); ok {
			filter.AsignadoA = actor.ID
		}
	}
	page, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, page)
}

// Stats handles GET /radicados/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// Get handles GET /radicados/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rad, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rad)
}

// GetByNumero handles GET /radicados/numero/{numero}
func (h *Handler) GetByNumero(w http.ResponseWriter, r *http.Request) {
	rad, err := h.svc.GetByNumero(r.Context(), chi.URLParam(r, "numero"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rad)
}

// History handles GET /radicados/{id}/historial
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"historial": items})
}

// Transition handles POST /radicados/{id}/transiciones
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	actor, _ := collaborators.FromContext(r.Context())
	rad, err := h.svc.Transition(withClientIP(r.Context(), audit.ClientIP(r)), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rad)
}

type assignRequest struct {
	ColaboradorID string `json:"colaborador_id"`
}

// Assign handles POST /radicados/{id}/asignar
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := respond.Decode(r, &req); err != nil || req.ColaboradorID == "" {
		respond.Error(w, "colaborador_id is required", http.StatusBadRequest)
		return
	}
	assignee, err := h.people.GetByID(r.Context(), req.ColaboradorID)
	if err != nil && !errors.Is(err, collaborators.ErrCollaboratorNotFound) {
		h.writeError(w, err)
		return
	}
	actor, _ := collaborators.FromContext(r.Context())
	rad, err := h.svc.Assign(withClientIP(r.Context(), audit.ClientIP(r)), actor, chi.URLParam(r, "id"), assignee)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, rad)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		respond.JSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, ErrRadicadoNotFound):
		respond.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		respond.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrInvalidEstado):
		respond.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrMissingActor):
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		h.logger.Error("radicacion request failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
	}
}
