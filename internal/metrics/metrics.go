// Package metrics exposes prometheus/client_golang instrumentation for the
// dispatcher, worker RPC client, cooldown poker, and list cache, adapted
// from the teacher's cache and realtime metric structs (same
// promauto-registered gauge/counter/histogram shape, generalized from
// history-lookup counters to administrative-command counters).
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every metric this daemon emits, registered once at startup
// under namespace (typically "cachemgr").
type Metrics struct {
	ConfigsByState *prometheus.GaugeVec

	CommandTotal    *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec

	WorkerRPCTotal    *prometheus.CounterVec
	WorkerRPCDuration *prometheus.HistogramVec

	PokerTicks           prometheus.Counter
	PokerTransitions     prometheus.Counter

	ListCacheHits   prometheus.Gauge
	ListCacheMisses prometheus.Gauge
}

// New registers the full metric family onto registry and returns it.
func New(namespace string, registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		ConfigsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "configs",
			Help:      "Current number of configs by intent and warm/cold state.",
		}, []string{"intent", "warm"}),

		CommandTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "commands_total",
			Help:      "Total administrative commands handled, by verb and outcome.",
		}, []string{"verb", "outcome"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "command_duration_seconds",
			Help:      "Administrative command latency, by verb.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),

		WorkerRPCTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workerrpc",
			Name:      "calls_total",
			Help:      "Total worker RPC calls, by command and status class.",
		}, []string{"command", "status_class"}),
		WorkerRPCDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workerrpc",
			Name:      "call_duration_seconds",
			Help:      "Worker RPC latency, by command.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),

		PokerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poker",
			Name:      "ticks_total",
			Help:      "Total cooldown poker ticks run.",
		}),
		PokerTransitions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poker",
			Name:      "transitions_total",
			Help:      "Total configs cooled by the poker across all ticks.",
		}),

		ListCacheHits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listcache",
			Name:      "hits",
			Help:      "Cumulative list-cache hits.",
		}),
		ListCacheMisses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listcache",
			Name:      "misses",
			Help:      "Cumulative list-cache misses.",
		}),
	}
}

// ObserveCommand records one dispatcher command's outcome and latency.
func (m *Metrics) ObserveCommand(verb, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.CommandTotal.WithLabelValues(verb, outcome).Inc()
	m.CommandDuration.WithLabelValues(verb).Observe(seconds)
}

// ObserveWorkerRPC records one worker RPC call's status class and latency.
func (m *Metrics) ObserveWorkerRPC(command string, statusClass int, seconds float64) {
	if m == nil {
		return
	}
	m.WorkerRPCTotal.WithLabelValues(command, strconv.Itoa(statusClass)+"xx").Inc()
	m.WorkerRPCDuration.WithLabelValues(command).Observe(seconds)
}

// ObserveTick records one poker tick that drove transitionCount configs cold.
func (m *Metrics) ObserveTick(transitionCount int) {
	if m == nil {
		return
	}
	m.PokerTicks.Inc()
	m.PokerTransitions.Add(float64(transitionCount))
}

// SetConfigsByState replaces the current gauge reading for (intent, warm).
func (m *Metrics) SetConfigsByState(intent string, warm bool, count int) {
	if m == nil {
		return
	}
	m.ConfigsByState.WithLabelValues(intent, strconv.FormatBool(warm)).Set(float64(count))
}

// SetListCacheStats mirrors listcache.Cache.Stats() onto the exported gauges.
func (m *Metrics) SetListCacheStats(hits, misses int64) {
	if m == nil {
		return
	}
	m.ListCacheHits.Set(float64(hits))
	m.ListCacheMisses.Set(float64(misses))
}
