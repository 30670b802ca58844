// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Normalization metrics
	EventsNormalized *prometheus.CounterVec
	MalformedRecords *prometheus.CounterVec

	// Book replay metrics
	SequenceGaps           prometheus.Counter
	NegativeQuantityClamps prometheus.Counter
	CheckpointsApplied     prometheus.Counter

	// Aggregation metrics
	WindowsFinalized     prometheus.Counter
	ZeroEventWindows     prometheus.Counter
	LowConfidenceWindows prometheus.Counter

	// Label metrics
	LabelsGenerated prometheus.Counter
	LabelMisses     prometheus.Counter

	// Dataset metrics
	RowsAssembled  prometheus.Counter
	WindowsDropped *prometheus.CounterVec

	// Build metrics
	BuildRunsTotal       *prometheus.CounterVec
	BuildDuration        prometheus.Histogram
	InstrumentsProcessed prometheus.Counter

	// Capture metrics
	CaptureMessages   *prometheus.CounterVec
	CaptureReconnects prometheus.Counter
	EventsArchived    *prometheus.CounterVec
	FeedLatency       prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulBuild   prometheus.Gauge
	LastSuccessfulArchive prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "orderflow"
	}

	return &Metrics{
		// Normalization metrics
		EventsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "events_total",
			Help:      "Total number of normalized events by stream",
		}, []string{"stream"}),
		MalformedRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "malformed_records_total",
			Help:      "Total number of raw records rejected as malformed by stream",
		}, []string{"stream"}),

		// Book replay metrics
		SequenceGaps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "sequence_gaps_total",
			Help:      "Total number of detected update sequence gaps",
		}),
		NegativeQuantityClamps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "negative_quantity_clamps_total",
			Help:      "Total number of negative quantities clamped to zero",
		}),
		CheckpointsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "checkpoints_applied_total",
			Help:      "Total number of verified checkpoints applied",
		}),

		// Aggregation metrics
		WindowsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ofi",
			Name:      "windows_finalized_total",
			Help:      "Total number of finalized aggregation windows",
		}),
		ZeroEventWindows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ofi",
			Name:      "zero_event_windows_total",
			Help:      "Total number of finalized windows with no events",
		}),
		LowConfidenceWindows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ofi",
			Name:      "low_confidence_windows_total",
			Help:      "Total number of finalized windows marked low confidence",
		}),

		// Label metrics
		LabelsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "label",
			Name:      "labels_total",
			Help:      "Total number of label records generated",
		}),
		LabelMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "label",
			Name:      "label_misses_total",
			Help:      "Total number of window-horizon pairs lacking future data",
		}),

		// Dataset metrics
		RowsAssembled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "rows_total",
			Help:      "Total number of assembled feature rows",
		}),
		WindowsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dataset",
			Name:      "windows_dropped_total",
			Help:      "Total number of windows excluded from the dataset by reason",
		}, []string{"reason"}),

		// Build metrics
		BuildRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "runs_total",
			Help:      "Total number of dataset build runs by status",
		}, []string{"status"}),
		BuildDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Dataset build duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		InstrumentsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "instruments_total",
			Help:      "Total number of instrument pipelines completed",
		}),

		// Capture metrics
		CaptureMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "messages_total",
			Help:      "Total number of feed messages received by stream",
		}, []string{"stream"}),
		CaptureReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		EventsArchived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "events_archived_total",
			Help:      "Total number of raw events written to the archive by stream",
		}, []string{"stream"}),
		FeedLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "feed_latency_seconds",
			Help:      "Feed message handling latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulBuild: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_build_timestamp",
			Help:      "Unix timestamp of last successful dataset build",
		}),
		LastSuccessfulArchive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_archive_timestamp",
			Help:      "Unix timestamp of last successful archive flush",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordNormalized increments the normalized events counter for a stream.
func RecordNormalized(stream string, count int) {
	DefaultMetrics.EventsNormalized.WithLabelValues(stream).Add(float64(count))
}

// RecordMalformed increments the malformed records counter for a stream.
func RecordMalformed(stream string, count int) {
	DefaultMetrics.MalformedRecords.WithLabelValues(stream).Add(float64(count))
}

// RecordReplayStats records book replay anomaly counters.
func RecordReplayStats(gaps, clamps, checkpoints int) {
	DefaultMetrics.SequenceGaps.Add(float64(gaps))
	DefaultMetrics.NegativeQuantityClamps.Add(float64(clamps))
	DefaultMetrics.CheckpointsApplied.Add(float64(checkpoints))
}

// RecordWindowFinalized records one finalized window.
func RecordWindowFinalized(zeroEvent, lowConfidence bool) {
	DefaultMetrics.WindowsFinalized.Inc()
	if zeroEvent {
		DefaultMetrics.ZeroEventWindows.Inc()
	}
	if lowConfidence {
		DefaultMetrics.LowConfidenceWindows.Inc()
	}
}

// RecordLabels records generated labels and misses for one instrument.
func RecordLabels(generated, misses int) {
	DefaultMetrics.LabelsGenerated.Add(float64(generated))
	DefaultMetrics.LabelMisses.Add(float64(misses))
}

// RecordRowsAssembled records assembled rows and dropped windows.
func RecordRowsAssembled(rows, droppedNoLabel, droppedLowConfidence int) {
	DefaultMetrics.RowsAssembled.Add(float64(rows))
	DefaultMetrics.WindowsDropped.WithLabelValues("no_label").Add(float64(droppedNoLabel))
	DefaultMetrics.WindowsDropped.WithLabelValues("low_confidence").Add(float64(droppedLowConfidence))
}

// RecordBuildRun records a dataset build run.
func RecordBuildRun(status string, durationSeconds float64) {
	DefaultMetrics.BuildRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BuildDuration.Observe(durationSeconds)
}

// RecordCaptureMessage increments the feed message counter for a stream.
func RecordCaptureMessage(stream string) {
	DefaultMetrics.CaptureMessages.WithLabelValues(stream).Inc()
}

// RecordCaptureReconnect increments the feed reconnect counter.
func RecordCaptureReconnect() {
	DefaultMetrics.CaptureReconnects.Inc()
}

// RecordFeedLatency records the delay between a feed event's venue timestamp
// and local handling.
func RecordFeedLatency(seconds float64) {
	DefaultMetrics.FeedLatency.Observe(seconds)
}

// RecordEventsArchived increments the archived events counter for a stream.
func RecordEventsArchived(stream string, count int) {
	DefaultMetrics.EventsArchived.WithLabelValues(stream).Add(float64(count))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
