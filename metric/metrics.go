// Package metric provides Prometheus metrics for the component manager.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics contains the manager-level metrics.
type Metrics struct {
	// Request handling
	RequestsTotal *prometheus.CounterVec

	// Component lifecycle
	StartsTotal     *prometheus.CounterVec
	ActiveInstances prometheus.Gauge
	SingletonHits   prometheus.Counter
	StartupDuration *prometheus.HistogramVec
	StartupTimeouts *prometheus.CounterVec

	// Bus
	BusConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all manager metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "requests_total",
				Help:      "Requests handled, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		StartsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "component_starts_total",
				Help:      "Component start attempts, by class and outcome",
			},
			[]string{"class", "outcome"},
		),

		ActiveInstances: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "active_instances",
				Help:      "Currently tracked component instances",
			},
		),

		SingletonHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "singleton_cache_hits_total",
				Help:      "Start requests served from the singleton cache",
			},
		),

		StartupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "startup_duration_seconds",
				Help:      "Time from launch to readiness, by class",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"class"},
		),

		StartupTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sic",
				Subsystem: "manager",
				Name:      "startup_timeouts_total",
				Help:      "Components that missed their readiness deadline, by class",
			},
			[]string{"class"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sic",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Whether the bus connection is healthy (1) or not (0)",
			},
		),
	}
}

// RecordRequest records a handled request by kind and outcome
func (m *Metrics) RecordRequest(kind, outcome string) {
	m.RequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStart records a component start attempt by class and outcome
func (m *Metrics) RecordStart(class, outcome string) {
	m.StartsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordStartupDuration records how long a component took to signal readiness
func (m *Metrics) RecordStartupDuration(class string, duration time.Duration) {
	m.StartupDuration.WithLabelValues(class).Observe(duration.Seconds())
}

// RecordStartupTimeout records a component that missed its readiness deadline
func (m *Metrics) RecordStartupTimeout(class string) {
	m.StartupTimeouts.WithLabelValues(class).Inc()
}

// RecordSingletonHit records a start request answered from the singleton cache
func (m *Metrics) RecordSingletonHit() {
	m.SingletonHits.Inc()
}

// SetActiveInstances updates the active instance gauge
func (m *Metrics) SetActiveInstances(n int) {
	m.ActiveInstances.Set(float64(n))
}

// RecordBusStatus records the bus connection health
func (m *Metrics) RecordBusStatus(connected bool) {
	if connected {
		m.BusConnected.Set(1)
	} else {
		m.BusConnected.Set(0)
	}
}

// collectorList returns all metrics for registration
func (m *Metrics) collectorList() []prometheus.Collector {
	return []prometheus.Collector{
		m.RequestsTotal,
		m.StartsTotal,
		m.ActiveInstances,
		m.SingletonHits,
		m.StartupDuration,
		m.StartupTimeouts,
		m.BusConnected,
	}
}

// Registry wraps a dedicated Prometheus registry with the manager metrics
// pre-registered.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	Metrics            *Metrics
}

// NewRegistry creates a metrics registry with core manager metrics and Go
// runtime collectors.
func NewRegistry() *Registry {
	prometheusRegistry := prometheus.NewRegistry()

	metrics := NewMetrics()
	prometheusRegistry.MustRegister(metrics.collectorList()...)

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		prometheusRegistry: prometheusRegistry,
		Metrics:            metrics,
	}
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}
