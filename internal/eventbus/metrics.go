package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the teacher's RealtimeMetrics, trimmed to the gauges and
// counters this bus actually emits.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	DeliveryErrors    prometheus.Counter
}

// NewMetrics registers the eventbus metric family under namespace onto
// registry.
func NewMetrics(namespace string, registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "connections_active",
			Help:      "Current number of subscribed dashboard connections.",
		}),
		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_published_total",
			Help:      "Total events delivered to subscribers, by event type.",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "events_dropped_total",
			Help:      "Total events dropped because the broadcast channel was full.",
		}),
		DeliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "delivery_errors_total",
			Help:      "Total subscriber Send errors.",
		}),
	}
}
