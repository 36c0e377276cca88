// Package metrics exposes prometheus collectors for backup and restore jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgbm_jobs_total",
		Help: "Total number of finished jobs by kind, trigger and status",
	}, []string{"kind", "trigger", "status"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pgbm_job_duration_seconds",
		Help:    "Duration of finished jobs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
	}, []string{"kind", "status"})

	artifactBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgbm_artifact_bytes_total",
		Help: "Total bytes of artifacts written by backups or read by restores",
	}, []string{"kind"})

	jobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgbm_jobs_running",
		Help: "Number of jobs currently running",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgbm_retries_total",
		Help: "Total number of retried transient failures",
	})

	scheduleDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgbm_schedule_dispatches_total",
		Help: "Total number of scheduled runs by outcome",
	}, []string{"status"})
)

// JobStarted marks a job of the given kind as running.
func JobStarted(kind string) {
	jobsRunning.WithLabelValues(kind).Inc()
}

// JobFinished records the outcome of a job started with JobStarted.
func JobFinished(kind, trigger, status string, took time.Duration, bytes int64) {
	jobsRunning.WithLabelValues(kind).Dec()
	jobsTotal.WithLabelValues(kind, trigger, status).Inc()
	jobDuration.WithLabelValues(kind, status).Observe(took.Seconds())
	if bytes > 0 {
		artifactBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

func RecordRetry() {
	retriesTotal.Inc()
}

// RecordDispatch counts one scheduled run by its final status.
func RecordDispatch(status string) {
	scheduleDispatches.WithLabelValues(status).Inc()
}
