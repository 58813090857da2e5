// Package metrics relay 的 prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relay"

// Metrics 所有方法对 nil 接收者安全，未开启指标时可直接传 nil
type Metrics struct {
	reg            prometheus.Registerer
	events         *prometheus.CounterVec
	deliveryErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound frames by route and routing outcome.",
		}, []string{"route", "outcome"}),
		deliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Failed deliveries by transport kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.events, m.deliveryErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WatchConnections 注册连接数 gauge，抓取时回调 fn
func (m *Metrics) WatchConnections(fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Open websocket connections on this node.",
	}, fn))
}

// WatchPresence 注册在线人数 gauge
func (m *Metrics) WatchPresence(fn func() float64) error {
	if m == nil {
		return nil
	}
	return m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "presence_users",
		Help:      "Usernames currently in the presence registry.",
	}, fn))
}

func (m *Metrics) ObserveEvent(route, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) DeliveryError(kind string) {
	if m == nil {
		return
	}
	m.deliveryErrors.WithLabelValues(kind).Inc()
}
