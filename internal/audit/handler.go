package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type lister interface {
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// Handler serves the admin audit trail.
type Handler struct {
	events lister
	logger *logging.Logger
}

func NewHandler(events lister, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{events: events, logger: logger}
}

// List handles GET /admin/auditoria?actor=&tipo=a,b&desde=RFC3339&limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		ActorID: strings.TrimSpace(q.Get("actor")),
		Limit:   respond.QueryInt(r, "limit", 100),
		Offset:  respond.QueryInt(r, "offset", 0),
	}
	for _, t := range strings.Split(q.Get("tipo"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter.Types = append(filter.Types, EventType(t))
		}
	}
	if raw := q.Get("desde"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respond.Error(w, "desde must be RFC3339", http.StatusBadRequest)
			return
		}
		filter.Since = since
	}
	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit list failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}
