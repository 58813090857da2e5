package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestEventsAndErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	m.ObserveEvent("chat.send", "delivered")
	m.ObserveEvent("chat.send", "delivered")
	m.ObserveEvent("chat.send", "dropped_unknown_sender")
	m.DeliveryError("ws")

	if v := counterValue(t, reg, "relay_events_total", map[string]string{"route": "chat.send", "outcome": "delivered"}); v != 2 {
		t.Fatalf("delivered = %v", v)
	}
	if v := counterValue(t, reg, "relay_events_total", map[string]string{"route": "chat.send", "outcome": "dropped_unknown_sender"}); v != 1 {
		t.Fatalf("dropped = %v", v)
	}
	if v := counterValue(t, reg, "relay_delivery_errors_total", map[string]string{"kind": "ws"}); v != 1 {
		t.Fatalf("delivery errors = %v", v)
	}
}

func TestGaugeFuncs(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WatchConnections(func() float64 { return 3 }); err != nil {
		t.Fatal(err)
	}
	if err := m.WatchPresence(func() float64 { return 2 }); err != nil {
		t.Fatal(err)
	}
	if v := counterValue(t, reg, "relay_connections", nil); v != 3 {
		t.Fatalf("connections = %v", v)
	}
	if v := counterValue(t, reg, "relay_presence_users", nil); v != 2 {
		t.Fatalf("presence = %v", v)
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("x", "y")
	m.DeliveryError("ws")
	if err := m.WatchPresence(func() float64 { return 0 }); err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("second registration on the same registry should fail")
	}
}
