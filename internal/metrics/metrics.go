// Package metrics defines the Prometheus collectors for resolution,
// publish, install and upstream lookups. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llamapkg"

// Outcome labels.
const (
	OutcomeOK           = "ok"
	OutcomeConflict     = "conflict"
	OutcomeExists       = "exists"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	Registry *prometheus.Registry

	resolutions      *prometheus.CounterVec
	resolveDuration  prometheus.Histogram
	resolvedPackages prometheus.Histogram
	publishes        *prometheus.CounterVec
	installs         *prometheus.CounterVec
	artifactsFetched *prometheus.CounterVec
	indexPackages    prometheus.Gauge
	upstreamRequests *prometheus.CounterVec
}

// New creates the collectors on a fresh registry. Go runtime and process
// collectors are included when withRuntime is true.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Dependency resolutions by outcome",
		}, []string{"outcome"}),

		resolveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a set of root requirements",
			Buckets:   prometheus.DefBuckets,
		}),

		resolvedPackages: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolved_packages",
			Help:      "Number of packages scheduled for install per resolution",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),

		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish attempts by outcome",
		}, []string{"outcome"}),

		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "installs_total",
			Help:      "Install runs by outcome",
		}, []string{"outcome"}),

		artifactsFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_fetched_total",
			Help:      "Artifacts materialized by install, by result",
		}, []string{"result"}),

		indexPackages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_packages",
			Help:      "Packages currently held by the registry index",
		}),

		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream registry lookups by result (cache_hit, fetched, error)",
		}, []string{"result"}),
	}
}

// ObserveResolve records one resolution run.
func (m *Metrics) ObserveResolve(outcome string, d time.Duration, packages int) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
	m.resolveDuration.Observe(d.Seconds())
	if outcome == OutcomeOK {
		m.resolvedPackages.Observe(float64(packages))
	}
}

// ObservePublish records one publish attempt.
func (m *Metrics) ObservePublish(outcome string) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(outcome).Inc()
}

// ObserveInstall records one install run.
func (m *Metrics) ObserveInstall(outcome string) {
	if m == nil {
		return
	}
	m.installs.WithLabelValues(outcome).Inc()
}

// ObserveArtifact records one artifact materialization.
func (m *Metrics) ObserveArtifact(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.artifactsFetched.WithLabelValues(result).Inc()
}

// SetIndexPackages records the current index size.
func (m *Metrics) SetIndexPackages(n int) {
	if m == nil {
		return
	}
	m.indexPackages.Set(float64(n))
}

// ObserveUpstream records one upstream lookup.
func (m *Metrics) ObserveUpstream(result string) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(result).Inc()
}
