// Package dashboard serves the summary shown on the portal home page.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type statsSource interface {
	Stats(ctx context.Context) (radicacion.Stats, error)
}

type clientCounter interface {
	Clients() int
}

// Summary is the GET /dashboard payload.
type Summary struct {
	Radicados      radicacion.Stats           `json:"radicados"`
	Notificaciones []metrics.DeliverySnapshot `json:"notificaciones"`
	LiveClients    int                        `json:"live_clients"`
	GeneratedAt    time.Time                  `json:"generated_at"`
}

type Handler struct {
	stats    statsSource
	gatherer prometheus.Gatherer
	live     clientCounter
	logger   *logging.Logger
}

// NewHandler builds the dashboard handler. live may be nil.
func NewHandler(stats statsSource, gatherer prometheus.Gatherer, live clientCounter, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{stats: stats, gatherer: gatherer, live: live, logger: logger}
}

// Get handles GET /dashboard
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("dashboard stats failed", "error", err)
		respond.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := Summary{
		Radicados:      st,
		Notificaciones: metrics.SnapshotDeliveries(h.gatherer),
		GeneratedAt:    time.Now().UTC(),
	}
	if out.Notificaciones == nil {
		out.Notificaciones = []metrics.DeliverySnapshot{}
	}
	if h.live != nil {
		out.LiveClients = h.live.Clients()
	}
	respond.JSON(w, http.StatusOK, out)
}
