package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_created_total",
			Help: "Total number of research sessions created",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_sessions_active",
			Help: "Number of sessions with a live backing run",
		},
	)

	SessionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_rejected_total",
			Help: "Total number of sessions rejected at the concurrency ceiling",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_sessions_evicted_total",
			Help: "Total number of sessions removed by the TTL sweep",
		},
	)

	// Run metrics
	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deepresearch_runs_completed_total",
			Help: "Total number of workflow runs reaching a terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_run_duration_seconds",
			Help:    "Workflow run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	ReviewCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_review_cycles",
			Help:    "Review cycles consumed per completed run",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	// Question/answer stage metrics
	QuestionsGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_questions_generated",
			Help:    "Questions produced per fan-out",
			Buckets: []float64{0, 1, 3, 5, 8, 12, 20},
		},
	)

	AnswerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deepresearch_answer_duration_seconds",
			Help:    "Per-question answering duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120},
		},
	)

	AnswerTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_answer_timeouts_total",
			Help: "Total questions that hit the per-question deadline",
		},
	)

	AnswerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_answer_errors_total",
			Help: "Total questions whose agent call failed and was contained",
		},
	)

	// Streaming metrics
	ProgressEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_progress_events_published_total",
			Help: "Total progress events published to session streams",
		},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deepresearch_stream_subscribers",
			Help: "Number of attached progress subscribers",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deepresearch_stream_events_dropped_total",
			Help: "Total events dropped because a subscriber was slow",
		},
	)
)

// RecordRunCompletion records terminal-status metrics for one run.
func RecordRunCompletion(status string, durationSeconds float64, reviewCycles int) {
	RunsCompleted.WithLabelValues(status).Inc()
	if durationSeconds > 0 {
		RunDuration.Observe(durationSeconds)
	}
	if reviewCycles > 0 {
		ReviewCycles.Observe(float64(reviewCycles))
	}
}
