// Package metrics provides Prometheus metrics for the guide engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ActionsTotal     *prometheus.CounterVec
	ActionErrors     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	PersistDuration  *prometheus.HistogramVec
	PersistFailures  *prometheus.CounterVec
	GuidanceTotal    *prometheus.CounterVec
	ProjectsTracked  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guide_actions_recorded_total",
				Help: "Actions recorded, by stage after the update.",
			},
			[]string{"stage"},
		),
		ActionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guide_action_errors_total",
				Help: "Errors reported inside recorded actions, by stage.",
			},
			[]string{"stage"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guide_stage_transitions_total",
				Help: "Stage transitions by source stage, target stage and outcome.",
			},
			[]string{"from", "to", "outcome"},
		),
		PersistDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guide_persist_duration_seconds",
				Help:    "Time spent writing a full registry snapshot.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guide_persist_failures_total",
				Help: "Failed snapshot writes by backend.",
			},
			[]string{"backend"},
		),
		GuidanceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guide_guidance_total",
				Help: "Guidance responses by source (stage, baseline, fallback).",
			},
			[]string{"source"},
		),
		ProjectsTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "guide_projects_tracked",
				Help: "Number of progress records held by the registry.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.ActionsTotal)
	reg.MustRegister(m.ActionErrors)
	reg.MustRegister(m.TransitionsTotal)
	reg.MustRegister(m.PersistDuration)
	reg.MustRegister(m.PersistFailures)
	reg.MustRegister(m.GuidanceTotal)
	reg.MustRegister(m.ProjectsTracked)
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterCacheStats exposes a cache's hit/miss/eviction counters, read
// through fn at scrape time.
func (m *Metrics) RegisterCacheStats(fn func() (hits, misses, evictions uint64)) {
	if m == nil {
		return
	}
	read := func(i int) func() float64 {
		return func() float64 {
			h, ms, e := fn()
			return float64([]uint64{h, ms, e}[i])
		}
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "guide_cache_hits_total", Help: "Project lookup cache hits."}, read(0)),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "guide_cache_misses_total", Help: "Project lookup cache misses."}, read(1)),
		prometheus.NewCounterFunc(prometheus.CounterOpts{Name: "guide_cache_evictions_total", Help: "Project lookup cache evictions."}, read(2)),
	)
}

// RecordAction counts one recorded action and the errors it carried.
func (m *Metrics) RecordAction(stage string, errorCount int) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(stage).Inc()
	if errorCount > 0 {
		m.ActionErrors.WithLabelValues(stage).Add(float64(errorCount))
	}
}

// RecordTransition counts a stage transition attempt.
func (m *Metrics) RecordTransition(from, to, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to, outcome).Inc()
}

// ObservePersist records a snapshot write.
func (m *Metrics) ObservePersist(backend string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.PersistDuration.WithLabelValues(backend).Observe(seconds)
	if err != nil {
		m.PersistFailures.WithLabelValues(backend).Inc()
	}
}

// RecordGuidance counts a guidance response by source.
func (m *Metrics) RecordGuidance(source string) {
	if m == nil {
		return
	}
	m.GuidanceTotal.WithLabelValues(source).Inc()
}

// SetProjects sets the tracked project gauge.
func (m *Metrics) SetProjects(n int) {
	if m == nil {
		return
	}
	m.ProjectsTracked.Set(float64(n))
}
