package auth

import (
	"errors"
	"net/http"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Handler exposes the /auth endpoints.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

// NewHandler creates an auth handler.
func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	result, err := h.service.Login(r.Context(), req.Email, req.Password, audit.ClientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /auth/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tok, st, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"token": tok, "session": st})
}

// Logout handles POST /auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	token, _ := BearerToken(r.Header.Get("Authorization"))
	c, _ := collaborators.FromContext(r.Context())
	if err := h.service.Logout(r.Context(), token, claims, c, audit.ClientIP(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SessionStatus handles GET /auth/session
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	st, err := h.service.SessionStatus(r.Context(), claims)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

// KeepAlive handles POST /auth/session/keepalive
func (h *Handler) KeepAlive(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	st, err := h.service.KeepAlive(r.Context(), claims)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, st)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		respond.Error(w, ErrInvalidCredentials.Error(), http.StatusUnauthorized)
	case errors.Is(err, session.ErrSessionExpired):
		respond.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, ErrNotCollaborator), errors.Is(err, ErrCollaboratorInactive):
		respond.Error(w, err.Error(), http.StatusForbidden)
	default:
		h.logger.Error("auth request failed", "error", err)
		respond.Error(w, "authentication unavailable", http.StatusBadGateway)
	}
}
