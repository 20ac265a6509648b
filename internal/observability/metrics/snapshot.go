package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// DeliverySnapshot summarizes notification counters for the dashboard.
type DeliverySnapshot struct {
	Channel string `json:"channel"`
	OK      int64  `json:"ok"`
	Failed  int64  `json:"failed"`
}

// SnapshotDeliveries reads portal_notify_deliveries_total from the gatherer.
func SnapshotDeliveries(gatherer prometheus.Gatherer) []DeliverySnapshot {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return nil
	}
	var family *dto.MetricFamily
	for _, mf := range mfs {
		if mf != nil && mf.GetName() == "portal_notify_deliveries_total" {
			family = mf
			break
		}
	}
	if family == nil {
		return []DeliverySnapshot{}
	}

	byChannel := map[string]*DeliverySnapshot{}
	var order []string
	for _, metric := range family.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		channel := labelValue(metric, "channel")
		snap, ok := byChannel[channel]
		if !ok {
			snap = &DeliverySnapshot{Channel: channel}
			byChannel[channel] = snap
			order = append(order, channel)
		}
		count := int64(metric.GetCounter().GetValue())
		if labelValue(metric, "status") == "ok" {
			snap.OK += count
		} else {
			snap.Failed += count
		}
	}
	out := make([]DeliverySnapshot, 0, len(order))
	for _, ch := range order {
		out = append(out, *byChannel[ch])
	}
	return out
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
