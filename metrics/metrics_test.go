package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ArchiveStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveInFlight))

	m.ArchiveFinished("READY", 2*time.Second, 42)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ArchiveInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ArchiveJobsTotal.WithLabelValues("READY")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.ArchiveBytes))

	m.SweepFinished(3, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRunsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepPurgedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepFailedTotal))

	m.ShareGranted("VIEW")
	m.ShareGranted("VIEW")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SharesTotal.WithLabelValues("VIEW")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ArchiveStarted()
		m.ArchiveFinished("FAILED", time.Second, 0)
		m.SweepFinished(1, 1)
		m.ShareGranted("EDIT")
	})
}

func TestInitReturnsSingleton(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := Init(reg)
	second := Init(reg)
	assert.Same(t, first, second)
	assert.Same(t, first, Get())
}
