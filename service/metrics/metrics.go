// Package metrics holds the realtime hub's Prometheus collectors. All methods
// are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crag_realtime"

type Metrics struct {
	Connections     prometheus.Gauge
	Rooms           prometheus.Gauge
	InboundTotal    *prometheus.CounterVec
	OutboundDropped prometheus.Counter
	OfflineEnqueued prometheus.Counter
	OfflineFlushed  prometheus.Counter
	MirrorFailed    prometheus.Counter
}

// New registers the collectors on reg; nil means the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live websocket connections",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member",
		}),
		InboundTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Inbound events by event name and result code",
		}, []string{"event", "result"}),
		OutboundDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound frames dropped because a peer's send buffer was full",
		}),
		OfflineEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_enqueued_total",
			Help:      "Events queued for users without a live connection",
		}),
		OfflineFlushed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_flushed_total",
			Help:      "Queued events delivered on reconnect",
		}),
		MirrorFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_failed_total",
			Help:      "Event mirror publishes that failed or were dropped",
		}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(n))
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.Rooms.Set(float64(n))
}

func (m *Metrics) Inbound(event, result string) {
	if m == nil {
		return
	}
	m.InboundTotal.WithLabelValues(event, result).Inc()
}

func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.OutboundDropped.Inc()
}

func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.OfflineEnqueued.Inc()
}

func (m *Metrics) Flushed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OfflineFlushed.Add(float64(n))
}

func (m *Metrics) MirrorFailure() {
	if m == nil {
		return
	}
	m.MirrorFailed.Inc()
}
