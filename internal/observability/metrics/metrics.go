package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "portal"

func registerer(reg prometheus.Registerer) prometheus.Registerer {
	if reg == nil {
		return prometheus.DefaultRegisterer
	}
	return reg
}

// HTTPMetrics exposes request counters/latency by chi route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registerer(reg).MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}

// NotificationMetrics counts fan-out deliveries per channel.
type NotificationMetrics struct {
	sent     *prometheus.CounterVec
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and status",
		}, []string{"channel", "status"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "jobs_total",
			Help:      "Notification jobs processed by worker outcome",
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "vendor_latency_seconds",
			Help:      "Latency of outbound vendor calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"vendor", "status"}),
	}
	registerer(reg).MustRegister(m.sent, m.jobs, m.duration)
	return m
}

func (m *NotificationMetrics) ObserveDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(channel, statusLabel(ok)).Inc()
}

func (m *NotificationMetrics) ObserveJob(status string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(status).Inc()
}

func (m *NotificationMetrics) ObserveVendor(vendor string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(vendor, statusLabel(ok)).Observe(seconds)
}

// RadicacionMetrics tracks case filing volume.
type RadicacionMetrics struct {
	created     *prometheus.CounterVec
	transitions *prometheus.CounterVec
	uploads     *prometheus.CounterVec
}

func NewRadicacionMetrics(reg prometheus.Registerer) *RadicacionMetrics {
	m := &RadicacionMetrics{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radicacion",
			Name:      "created_total",
			Help:      "Radicados created by tipo and prioridad",
		}, []string{"tipo", "prioridad"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radicacion",
			Name:      "transitions_total",
			Help:      "Radicado state transitions",
		}, []string{"from", "to"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "radicacion",
			Name:      "soportes_total",
			Help:      "Soporte uploads and OCR runs",
		}, []string{"operation", "status"}),
	}
	registerer(reg).MustRegister(m.created, m.transitions, m.uploads)
	return m
}

func (m *RadicacionMetrics) ObserveCreated(tipo, prioridad string) {
	if m == nil {
		return
	}
	m.created.WithLabelValues(tipo, prioridad).Inc()
}

func (m *RadicacionMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *RadicacionMetrics) ObserveSoporte(operation string, ok bool) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(operation, statusLabel(ok)).Inc()
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
