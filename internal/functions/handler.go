// Package functions holds the vendor-proxy handlers that run both inside the
// API and as a standalone Lambda. Both entry points mount the same Handler.
package functions

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// maxSMSRunes keeps a message within three concatenated GSM segments.
const maxSMSRunes = 459

type folderDeleter interface {
	DeleteFolder(ctx context.Context, path string) (*onedrive.DeleteResult, error)
}

// Handler serves /functions/*.
type Handler struct {
	folders folderDeleter
	sms     notify.SMSSender
	audit   audit.Logger
	logger  *logging.Logger
}

func NewHandler(folders folderDeleter, sms notify.SMSSender, auditLog audit.Logger, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Handler{folders: folders, sms: sms, audit: auditLog, logger: logger}
}

// Routes mounts the functions under r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/onedrive/delete-folder", h.DeleteFolder)
	r.Post("/sms/send", h.SendSMS)
}

type deleteFolderRequest struct {
	FolderPath string `json:"folderPath"`
}

type deleteFolderResponse struct {
	Success bool `json:"success"`
	*onedrive.DeleteResult
}

// DeleteFolder handles POST /functions/onedrive/delete-folder
func (h *Handler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	var req deleteFolderRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	path := strings.TrimSpace(req.FolderPath)
	if path == "" {
		respond.Error(w, "folderPath is required", http.StatusBadRequest)
		return
	}
	if h.folders == nil {
		respond.Error(w, onedrive.ErrNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}

	res, err := h.folders.DeleteFolder(r.Context(), path)
	if err != nil {
		var apiErr *onedrive.APIError
		switch {
		case errors.Is(err, onedrive.ErrInvalidPath):
			respond.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, onedrive.ErrNotConfigured):
			respond.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.As(err, &apiErr):
			h.logger.Error("onedrive delete failed", "error", err, "path", path, "status", apiErr.Status)
			respond.Error(w, err.Error(), http.StatusBadGateway)
		default:
			h.logger.Error("onedrive delete failed", "error", err, "path", path)
			respond.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	h.record(r, audit.EventOneDriveFolderDelete, path, res)
	h.logger.Info("onedrive folder delete", "path", res.Path, "deleted", res.Deleted, "already_absent", res.AlreadyAbsent)
	respond.JSON(w, http.StatusOK, deleteFolderResponse{Success: true, DeleteResult: res})
}

type sendSMSRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendSMSResponse struct {
	Success bool   `json:"success"`
	To      string `json:"to"`
}

// SendSMS handles POST /functions/sms/send
func (h *Handler) SendSMS(w http.ResponseWriter, r *http.Request) {
	var req sendSMSRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	to := notify.NormalizeMSISDN(req.To)
	msg := strings.TrimSpace(req.Message)
	switch {
	case to == "":
		respond.Error(w, "to is required", http.StatusBadRequest)
		return
	case msg == "":
		respond.Error(w, "message is required", http.StatusBadRequest)
		return
	case utf8.RuneCountInString(msg) > maxSMSRunes:
		respond.Error(w, "message is too long", http.StatusBadRequest)
		return
	}
	if h.sms == nil {
		respond.Error(w, "sms is not configured", http.StatusServiceUnavailable)
		return
	}

	if err := h.sms.SendSMS(r.Context(), to, msg); err != nil {
		var lmErr *notify.LabsMobileError
		if errors.As(err, &lmErr) {
			h.logger.Warn("labsmobile rejected sms", "error", err, "to", to)
			respond.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		h.logger.Error("sms send failed", "error", err, "to", to)
		respond.Error(w, "sms send failed", http.StatusBadGateway)
		return
	}
	respond.JSON(w, http.StatusOK, sendSMSResponse{Success: true, To: to})
}

func (h *Handler) record(r *http.Request, typ audit.EventType, resource string, details any) {
	event := audit.Event{
		Type:      typ,
		Resource:  resource,
		IPAddress: audit.ClientIP(r),
		Details:   audit.Details(details),
	}
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		event.ActorID, event.ActorEmail = claims.Subject, claims.Email
	} else {
		event.ActorEmail = "functions-secret"
	}
	if err := h.audit.LogEvent(r.Context(), event); err != nil {
		h.logger.Warn("failed to write audit event", "error", err, "event_type", typ)
	}
}
