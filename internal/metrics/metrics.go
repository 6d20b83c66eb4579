package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailpulse"

var ingestionDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

var (
	FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "files_total",
		Help:      "Uploaded files that reached a terminal status",
	}, []string{"status", "type"})

	RowsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "rows_total",
		Help:      "Normalized events stored",
	})

	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingestion",
		Name:      "duration_seconds",
		Help:      "Wall time from processing start to terminal status",
		Buckets:   ingestionDurationBuckets,
	})

	BucketsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregation",
		Name:      "buckets_merged_total",
		Help:      "Aggregate bucket merge-upserts applied",
	})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_failures_total",
		Help:      "Post-ingestion stage failures that were logged and swallowed",
	}, []string{"stage"})

	RiskScoresUpdated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "scores_updated_total",
		Help:      "Sender risk scores written",
	})

	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "detection",
		Name:      "alerts_total",
		Help:      "Rule triggers by outcome",
	}, []string{"type", "outcome"})
)

const (
	StageAggregation = "aggregation"
	StageRisk        = "risk"
	StageDetection   = "detection"
	StageCache       = "cache"
	StagePublish     = "publish"

	AlertOutcomeCreated    = "created"
	AlertOutcomeSuppressed = "suppressed"
)
