package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type fixedStats struct {
	st  radicacion.Stats
	err error
}

func (f fixedStats) Stats(context.Context) (radicacion.Stats, error) { return f.st, f.err }

type fixedClients int

func (f fixedClients) Clients() int { return int(f) }

func TestDashboardCombinesStatsAndDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewNotificationMetrics(reg)
	m.ObserveDelivery("email", true)
	m.ObserveDelivery("email", true)
	m.ObserveDelivery("sms", false)

	st := radicacion.Stats{
		Total:     3,
		PorEstado: map[radicacion.Estado]int{radicacion.EstadoRadicado: 3},
		PorTipo:   map[radicacion.Tipo]int{radicacion.TipoPQRS: 3},
		Vencidos:  1,
	}
	h := NewHandler(fixedStats{st: st}, reg, fixedClients(2), logging.Discard())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, 3, out.Radicados.Total)
	assert.Equal(t, 1, out.Radicados.Vencidos)
	assert.Equal(t, 2, out.LiveClients)

	byChannel := map[string]metrics.DeliverySnapshot{}
	for _, d := range out.Notificaciones {
		byChannel[d.Channel] = d
	}
	assert.Equal(t, int64(2), byChannel["email"].OK)
	assert.Equal(t, int64(1), byChannel["sms"].Failed)
}

func TestDashboardStatsError(t *testing.T) {
	h := NewHandler(fixedStats{err: errors.New("db down")}, prometheus.NewRegistry(), nil, logging.Discard())
	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
