package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsNilSafe(t *testing.T) {
	var h *HTTPMetrics
	h.ObserveRequest("GET", "/radicados", 200, 0.1)
	var n *NotificationMetrics
	n.ObserveDelivery("email", true)
	n.ObserveJob("completed")
	n.ObserveVendor("labsmobile", false, 0.3)
	var r *RadicacionMetrics
	r.ObserveCreated("pqrs", "normal")
	r.ObserveTransition("radicado", "en_revision")
	r.ObserveSoporte("upload", true)
}

func TestCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHTTPMetrics(reg).ObserveRequest("POST", "/auth/login", 401, 0.02)
	NewRadicacionMetrics(reg).ObserveCreated("reembolso", "alta")
}

func TestSnapshotDeliveries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewNotificationMetrics(reg)
	m.ObserveDelivery("email", true)
	m.ObserveDelivery("email", true)
	m.ObserveDelivery("email", false)
	m.ObserveDelivery("sms", true)

	snaps := SnapshotDeliveries(reg)
	if len(snaps) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(snaps))
	}
	got := map[string]DeliverySnapshot{}
	for _, s := range snaps {
		got[s.Channel] = s
	}
	if got["email"].OK != 2 || got["email"].Failed != 1 {
		t.Fatalf("unexpected email snapshot %+v", got["email"])
	}
	if got["sms"].OK != 1 || got["sms"].Failed != 0 {
		t.Fatalf("unexpected sms snapshot %+v", got["sms"])
	}
}

func TestSnapshotDeliveriesEmptyRegistry(t *testing.T) {
	if snaps := SnapshotDeliveries(prometheus.NewRegistry()); len(snaps) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snaps)
	}
}
