package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type enqueuer interface {
	Enqueue(ctx context.Context, n Notification, opts ...PublishOption) (string, error)
}

// Handler exposes manual notification requests and job status.
type Handler struct {
	publisher enqueuer
	jobs      JobRecorder
	logger    *logging.Logger
}

func NewHandler(publisher enqueuer, jobs JobRecorder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{publisher: publisher, jobs: jobs, logger: logger}
}

// EnqueueResponse acknowledges an accepted job.
type EnqueueResponse struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// Enqueue handles POST /notificaciones.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var n Notification
	if err := respond.Decode(r, &n); err != nil {
		respond.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := validate(n); err != nil {
		respond.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.publisher.Enqueue(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to enqueue notification", "error", err)
		respond.Error(w, "failed to enqueue notification", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusAccepted, EnqueueResponse{JobID: id, Status: JobStatusPending})
}

// GetJob handles GET /notificaciones/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		respond.Error(w, "job tracking disabled", http.StatusNotFound)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			respond.Error(w, "job not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to load notification job", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, job)
}

func validate(n Notification) error {
	if strings.TrimSpace(n.Subject) == "" && strings.TrimSpace(n.Body) == "" {
		return errors.New("subject or body is required")
	}
	for _, c := range n.Channels {
		switch c {
		case ChannelEmail, ChannelSMS, ChannelTeams:
		default:
			return errors.New("unknown channel: " + string(c))
		}
	}
	if len(n.Emails) == 0 && len(n.Phones) == 0 && !n.wants(ChannelTeams) {
		return ErrNoRecipients
	}
	return nil
}
