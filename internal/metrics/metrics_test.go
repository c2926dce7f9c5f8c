package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveResolve(t *testing.T) {
	m := New(false)

	m.ObserveResolve(OutcomeOK, 20*time.Millisecond, 3)
	m.ObserveResolve(OutcomeOK, 10*time.Millisecond, 1)
	m.ObserveResolve(OutcomeConflict, time.Millisecond, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.resolveDuration))
}

func TestCounters(t *testing.T) {
	m := New(false)

	m.ObservePublish(OutcomeOK)
	m.ObservePublish(OutcomeExists)
	m.ObservePublish(OutcomeExists)
	m.ObserveInstall(OutcomeError)
	m.ObserveArtifact(true)
	m.ObserveArtifact(false)
	m.ObserveUpstream("cache_hit")
	m.SetIndexPackages(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishes.WithLabelValues(OutcomeExists)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.installs.WithLabelValues(OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifactsFetched.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamRequests.WithLabelValues("cache_hit")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.indexPackages))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveResolve(OutcomeOK, time.Second, 1)
		m.ObservePublish(OutcomeOK)
		m.ObserveInstall(OutcomeOK)
		m.ObserveArtifact(true)
		m.SetIndexPackages(1)
		m.ObserveUpstream("fetched")
	})
}

func TestRuntimeCollectors(t *testing.T) {
	m := New(true)
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}
