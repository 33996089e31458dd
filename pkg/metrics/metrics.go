// Package metrics exposes Prometheus instrumentation for the partition
// engine: per-partition state/tip gauges, write-path counters, and
// replay/merge latency histograms.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StatesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pippin_states_total",
			Help: "Total number of loaded states, by partition",
		},
		[]string{"partition"},
	)

	TipsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pippin_tips_total",
			Help: "Total number of current tips, by partition",
		},
		[]string{"partition"},
	)

	CommitsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pippin_commits_written_total",
			Help: "Total number of commits flushed to a log file",
		},
		[]string{"partition"},
	)

	SnapshotsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pippin_snapshots_written_total",
			Help: "Total number of snapshot files written",
		},
		[]string{"partition"},
	)

	CommitLogBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pippin_commit_log_bytes_total",
			Help: "Total bytes written to commit-log files",
		},
		[]string{"partition"},
	)

	ReplayDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pippin_replay_duration_seconds",
			Help:    "Time taken to replay a queue of commits during load",
			Buckets: prometheus.DefBuckets,
		},
	)

	MergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pippin_merge_duration_seconds",
			Help:    "Time taken to reconcile two tips into one",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(StatesTotal)
	prometheus.MustRegister(TipsTotal)
	prometheus.MustRegister(CommitsWrittenTotal)
	prometheus.MustRegister(SnapshotsWrittenTotal)
	prometheus.MustRegister(CommitLogBytesTotal)
	prometheus.MustRegister(ReplayDuration)
	prometheus.MustRegister(MergeDuration)
}

// Handler returns the Prometheus HTTP handler, served by the CLI's
// serve subcommand.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
