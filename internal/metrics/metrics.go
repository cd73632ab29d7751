package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeteye_heartbeats_total",
			Help: "Total number of heartbeat samples received",
		},
		[]string{"status"}, // status: accepted, rejected, stale
	)

	// Evaluation metrics
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeteye_evaluations_total",
			Help: "Total number of per-condition threshold evaluations",
		},
		[]string{"condition", "severity"},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleeteye_evaluation_duration_seconds",
			Help:    "Duration of one lifecycle evaluation cycle",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Alert lifecycle metrics
	AlertsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeteye_alerts_opened_total",
			Help: "Total number of alerts opened",
		},
		[]string{"condition", "severity"},
	)

	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeteye_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
		[]string{"condition", "auto"}, // auto: true, false
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleeteye_notifications_total",
			Help: "Total number of notification deliveries attempted",
		},
		[]string{"kind", "channel", "status"}, // status: sent, failed
	)

	SweepRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleeteye_offline_sweeps_total",
			Help: "Total number of offline detection sweeps",
		},
	)
)
