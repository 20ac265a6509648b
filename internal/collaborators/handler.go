package collaborators

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Handler serves collaborator endpoints
type Handler struct {
	repo   Repository
	audit  audit.Logger
	logger *logging.Logger
}

// NewHandler creates a collaborators handler.
func NewHandler(repo Repository, auditLog audit.Logger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Handler{repo: repo, audit: auditLog, logger: logger}
}

// Me handles GET /me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	c, ok := FromContext(r.Context())
	if !ok {
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	respond.JSON(w, http.StatusOK, c)
}

// List handles GET /admin/colaboradores
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Rol:    Role(q.Get("rol")),
		Query:  q.Get("q"),
		Limit:  respond.QueryInt(r, "limit", 50),
		Offset: respond.QueryInt(r, "offset", 0),
	}
	if raw := q.Get("activo"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			filter.Activo = &v
		}
	}
	items, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list collaborators", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"colaboradores": items, "count": len(items)})
}

// Get handles GET /admin/colaboradores/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, c)
}

type updateRequest struct {
	Activo *bool  `json:"activo"`
	Rol    string `json:"rol"`
}

// Update handles PATCH /admin/colaboradores/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Activo == nil && req.Rol == "" {
		respond.Error(w, "nothing to update", http.StatusBadRequest)
		return
	}
	id := chi.URLParam(r, "id")
	actor, _ := FromContext(r.Context())
	if actor != nil && actor.ID == id && req.Activo != nil && !*req.Activo {
		respond.Error(w, "cannot deactivate yourself", http.StatusConflict)
		return
	}

	var (
		c   *Collaborator
		err error
	)
	if req.Rol != "" {
		if c, err = h.repo.UpdateRole(r.Context(), id, Role(req.Rol)); err != nil {
			h.writeError(w, err)
			return
		}
	}
	if req.Activo != nil {
		if c, err = h.repo.SetActive(r.Context(), id, *req.Activo); err != nil {
			h.writeError(w, err)
			return
		}
	}

	event := audit.Event{
		Type:      audit.EventCollaboratorUpdated,
		Resource:  c.ID,
		IPAddress: audit.ClientIP(r),
		Details:   audit.Details(req),
	}
	if actor != nil {
		event.ActorID, event.ActorEmail = actor.ID, actor.Email
	}
	if err := h.audit.LogEvent(r.Context(), event); err != nil {
		h.logger.Warn("failed to audit collaborator update", "error", err, "collaborator_id", c.ID)
	}
	h.logger.Info("collaborator updated", "collaborator_id", c.ID, "rol", c.Rol, "activo", c.Activo)
	respond.JSON(w, http.StatusOK, c)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCollaboratorNotFound):
		respond.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrInvalidRole):
		respond.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("collaborator request failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
	}
}
