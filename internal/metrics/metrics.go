// Package metrics exposes Beacon's self-monitoring Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions by outcome: accepted, rejected, processed, failed.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_submissions_total",
			Help: "Total number of submissions by outcome",
		},
		[]string{"result"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_submission_processing_seconds",
			Help:    "Time spent processing one submission under the host lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_submission_queue_depth",
			Help: "Submissions accepted but not yet finished processing",
		},
	)

	AlertTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_alert_transitions_total",
			Help: "Alert state transitions",
		},
		[]string{"kind"}, // new/cleared
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_notifications_total",
			Help: "Notification deliveries by transport and result",
		},
		[]string{"transport", "result"}, // email/webhook/ntfy, success/error
	)

	TimelineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_timeline_errors_total",
			Help: "Timeline writes rejected by resolution and reason",
		},
		[]string{"system", "reason"}, // out_of_order/double_submission/storage
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_flushes_total",
			Help: "Periodic cache flushes by result",
		},
		[]string{"result"},
	)
)
