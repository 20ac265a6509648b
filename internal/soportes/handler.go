package soportes

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// multipartOverhead leaves room for form boundaries and headers.
const multipartOverhead = 1 << 20

type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Upload handles POST /radicados/{id}/soportes
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.svc.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respond.Error(w, ErrTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		respond.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respond.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	content, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		respond.Error(w, "failed to read file", http.StatusBadRequest)
		return
	}

	actor, _ := collaborators.FromContext(r.Context())
	sop, err := h.svc.Upload(withClientIP(r.Context(), audit.ClientIP(r)), actor, chi.URLParam(r, "id"), Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, sop)
}

// List handles GET /radicados/{id}/soportes
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"soportes": items, "count": len(items)})
}

// Get handles GET /soportes/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sop, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, sop)
}

// Download handles GET /soportes/{id}/descarga
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.DownloadURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, url)
}

// Delete handles DELETE /soportes/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := collaborators.FromContext(r.Context())
	if err := h.svc.Delete(withClientIP(r.Context(), audit.ClientIP(r)), actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OCR handles POST /soportes/{id}/ocr
func (h *Handler) OCR(w http.ResponseWriter, r *http.Request) {
	actor, _ := collaborators.FromContext(r.Context())
	sop, err := h.svc.RunOCR(withClientIP(r.Context(), audit.ClientIP(r)), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, sop)
}

// Inspect handles GET /radicados/numero/{numero}/soportes/inspeccion
func (h *Handler) Inspect(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Inspect(r.Context(), chi.URLParam(r, "numero"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, report)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSoporteNotFound), errors.Is(err, radicacion.ErrRadicadoNotFound), errors.Is(err, ErrObjectNotFound):
		respond.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrTooLarge):
		respond.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, ErrUnsupportedType):
		respond.Error(w, err.Error(), http.StatusUnsupportedMediaType)
	case errors.Is(err, ErrEmptyFile):
		respond.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRadicadoClosed):
		respond.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrOCRNotConfigured):
		respond.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, ErrMissingActor):
		respond.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		h.logger.Error("soportes request failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
	}
}
