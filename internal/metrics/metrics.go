// Package metrics exposes collection-cycle counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the relay reports.
type Metrics struct {
	registry *prometheus.Registry

	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	readings          prometheus.Gauge
	devices           prometheus.Gauge
	failedCandidates  prometheus.Counter
	discoveryDuration prometheus.Histogram
	lastSuccess       prometheus.Gauge
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tankrelay_cycles_total",
			Help: "Collection cycles by outcome status.",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tankrelay_cycle_duration_seconds",
			Help:    "Wall time of one collection cycle.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}),
		readings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tankrelay_tank_readings",
			Help: "Tank readings in the last batch.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tankrelay_discovered_devices",
			Help: "Gateways found by the last discovery run.",
		}),
		failedCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tankrelay_discovery_failed_candidates_total",
			Help: "Discovery probes that could not be sent.",
		}),
		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tankrelay_discovery_duration_seconds",
			Help:    "Wall time of one discovery run.",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tankrelay_last_success_timestamp_seconds",
			Help: "Unix time of the last successful upload.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.readings,
		m.devices,
		m.failedCandidates,
		m.discoveryDuration,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(status string, readings int, took time.Duration, at time.Time) {
	m.cycles.WithLabelValues(status).Inc()
	m.cycleDuration.Observe(took.Seconds())
	m.readings.Set(float64(readings))
	if status == "ok" {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// ObserveDiscovery records one discovery run.
func (m *Metrics) ObserveDiscovery(devices, failed int, took time.Duration) {
	m.devices.Set(float64(devices))
	m.failedCandidates.Add(float64(failed))
	m.discoveryDuration.Observe(took.Seconds())
}

// Registry exposes the registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
