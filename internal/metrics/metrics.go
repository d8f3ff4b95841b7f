package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Intake worker metrics
var (
	// MessagesHandled counts queue messages by outcome.
	MessagesHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "queue_messages_total",
			Help:      "Total number of queue messages handled",
		},
		[]string{"outcome"}, // dispatched, discarded, lock_denied, dispatch_failed
	)

	// LockAcquisitions counts processing-lock attempts by result.
	LockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "lock_acquisitions_total",
			Help:      "Total number of processing lock acquisition attempts",
		},
		[]string{"result"}, // acquired, denied, error
	)

	// TasksDispatched counts transcode task launches.
	TasksDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "tasks_dispatched_total",
			Help:      "Total number of transcode tasks launched",
		},
	)

	// PollDuration tracks how long each queue receive call takes.
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "queue_poll_duration_seconds",
			Help:      "Time spent in queue receive calls",
			Buckets:   []float64{0.1, 1, 5, 10, 20, 30},
		},
	)
)

// Transcode task metrics
var (
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "source_download_duration_seconds",
			Help:      "Time taken to download source videos",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "transcode_duration_seconds",
			Help:      "Time taken for transcoding",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	RenditionUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "rendition_upload_duration_seconds",
			Help:      "Time taken to upload transcoded renditions",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)
)

// Upload API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	// UploadsPresigned counts presign calls by mode.
	UploadsPresigned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "uploads_presigned_total",
			Help:      "Total number of uploads presigned",
		},
		[]string{"mode"},
	)

	// UploadsFinalized counts successful finalize calls.
	UploadsFinalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "uploads_finalized_total",
			Help:      "Total number of uploads finalized",
		},
	)
)
