// Package metrics exposes Prometheus collectors for archive jobs, the trash
// sweeper and sharing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

type Metrics struct {
	// Archive metrics
	ArchiveJobsTotal *prometheus.CounterVec // minidrive_archive_jobs_total{status}
	ArchiveDuration  prometheus.Histogram   // minidrive_archive_build_duration_seconds
	ArchiveBytes     prometheus.Counter     // minidrive_archive_bytes_total
	ArchiveInFlight  prometheus.Gauge       // minidrive_archive_jobs_in_flight

	// Sweeper metrics
	SweepRunsTotal   prometheus.Counter // minidrive_trash_sweeps_total
	SweepPurgedTotal prometheus.Counter // minidrive_trash_purged_nodes_total
	SweepFailedTotal prometheus.Counter // minidrive_trash_purge_failures_total

	// Sharing metrics
	SharesTotal *prometheus.CounterVec // minidrive_shares_total{level}
}

// New registers a fresh set of collectors on registry.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	return &Metrics{
		ArchiveJobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "minidrive_archive_jobs_total",
			Help: "Archive jobs that reached a terminal status",
		}, []string{"status"}),

		ArchiveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "minidrive_archive_build_duration_seconds",
			Help:    "Time spent building and storing one archive",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		ArchiveBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "minidrive_archive_bytes_total",
			Help: "File bytes written into archives",
		}),

		ArchiveInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "minidrive_archive_jobs_in_flight",
			Help: "Archive jobs currently PROCESSING on this instance",
		}),

		SweepRunsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "minidrive_trash_sweeps_total",
			Help: "Completed trash sweeps",
		}),

		SweepPurgedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "minidrive_trash_purged_nodes_total",
			Help: "Nodes permanently removed by the trash sweeper",
		}),

		SweepFailedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "minidrive_trash_purge_failures_total",
			Help: "Nodes the trash sweeper failed to purge",
		}),

		SharesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "minidrive_shares_total",
			Help: "Share operations by granted level",
		}, []string{"level"}),
	}
}

// Init registers the process-wide collectors once; later calls return the
// same instance.
func Init(registry prometheus.Registerer) *Metrics {
	once.Do(func() {
		instance = New(registry)
	})
	return instance
}

// Get returns the process-wide instance, or nil before Init.
func Get() *Metrics {
	return instance
}

// The recorders below accept a nil receiver so callers can run without metrics.

func (m *Metrics) ArchiveStarted() {
	if m == nil {
		return
	}
	m.ArchiveInFlight.Inc()
}

func (m *Metrics) ArchiveFinished(status string, elapsed time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.ArchiveInFlight.Dec()
	m.ArchiveJobsTotal.WithLabelValues(status).Inc()
	m.ArchiveDuration.Observe(elapsed.Seconds())
	m.ArchiveBytes.Add(float64(bytes))
}

func (m *Metrics) SweepFinished(purged, failed int) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
	m.SweepPurgedTotal.Add(float64(purged))
	m.SweepFailedTotal.Add(float64(failed))
}

func (m *Metrics) ShareGranted(level string) {
	if m == nil {
		return
	}
	m.SharesTotal.WithLabelValues(level).Inc()
}
