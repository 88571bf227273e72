package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Election metrics
	ElectionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copycat_elections_started_total",
			Help: "Total number of elections this node has started as a candidate",
		},
	)

	ElectionsWonTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "copycat_elections_won_total",
			Help: "Total number of elections this node has won",
		},
	)

	RoleTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_role_transitions_total",
			Help: "Total number of role transitions by destination role",
		},
		[]string{"role"},
	)

	// Log metrics
	CommitIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_commit_index",
			Help: "Current commit index of the replicated log",
		},
	)

	LastAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_last_applied_index",
			Help: "Last index applied to the state machine",
		},
	)

	CurrentTerm = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_current_term",
			Help: "Current Raft term observed by this node",
		},
	)

	SegmentCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_segment_count",
			Help: "Number of on-disk segments currently held open",
		},
	)

	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copycat_compaction_duration_seconds",
			Help:    "Time taken to compact a segment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Replication metrics
	AppendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copycat_append_latency_seconds",
			Help:    "Leader-observed round-trip latency of an append RPC, by peer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	ReplicationBackoffTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_replication_backoff_total",
			Help: "Total number of times a peer's replication driver entered backoff",
		},
		[]string{"peer"},
	)

	// Submit pipeline metrics
	SubmitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "copycat_submit_duration_seconds",
			Help:    "Time from Submit acceptance to commit-and-apply",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_submit_total",
			Help: "Total number of submitted operations by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		ElectionsStartedTotal,
		ElectionsWonTotal,
		RoleTransitionsTotal,
		CommitIndex,
		LastAppliedIndex,
		CurrentTerm,
		SegmentCount,
		CompactionDuration,
		AppendLatency,
		ReplicationBackoffTotal,
		SubmitDuration,
		SubmitTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
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

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
