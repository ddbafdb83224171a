// Package metrics exposes Prometheus instruments for the ingest pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	documents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Documents processed, by source type and outcome.",
		},
		[]string{"source", "status"},
	)
	units = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "ingest",
			Name:      "units_total",
			Help:      "Semantic units committed, by source type.",
		},
		[]string{"source"},
	)
	driftEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "drift",
			Name:      "entries_total",
			Help:      "Drift entries observed, by resolution.",
		},
		[]string{"resolution"},
	)
	commitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tagsync",
			Subsystem: "reconcile",
			Name:      "commit_duration_seconds",
			Help:      "Canonical store commit duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	commitRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "reconcile",
			Name:      "retries_total",
			Help:      "Commit attempts retried after the store was unavailable.",
		},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "batch",
			Name:      "sessions_total",
			Help:      "Ingest sessions finished, by status.",
		},
		[]string{"status"},
	)
	watchEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagsync",
			Subsystem: "watch",
			Name:      "events_total",
			Help:      "File-change triggers, by disposition.",
		},
		[]string{"disposition"},
	)
)

// RegisterMetrics registers every instrument with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(documents, units, driftEntries, commitDuration, commitRetries, sessions, watchEvents)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

// RecordDocument counts one processed document.
func RecordDocument(source, status string, unitCount int) {
	RegisterMetrics()
	documents.WithLabelValues(source, status).Inc()
	if unitCount > 0 {
		units.WithLabelValues(source).Add(float64(unitCount))
	}
}

// RecordDrift counts drift entries with the given resolution.
func RecordDrift(resolution string, count int) {
	if count <= 0 {
		return
	}
	RegisterMetrics()
	driftEntries.WithLabelValues(resolution).Add(float64(count))
}

// RecordCommit observes one commit attempt sequence.
func RecordCommit(outcome string, duration time.Duration) {
	RegisterMetrics()
	commitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordRetry counts one retried commit attempt.
func RecordRetry() {
	RegisterMetrics()
	commitRetries.Inc()
}

// RecordSession counts one finished session.
func RecordSession(status string) {
	RegisterMetrics()
	sessions.WithLabelValues(status).Inc()
}

// RecordWatchEvent counts one file-change trigger.
func RecordWatchEvent(disposition string) {
	RegisterMetrics()
	watchEvents.WithLabelValues(disposition).Inc()
}
