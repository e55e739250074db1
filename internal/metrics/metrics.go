package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPC metrics
var (
	// RPCRequestsTotal counts envelope calls by method and outcome (ok, failed, error)
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutline_rpc_requests_total",
			Help: "Envelope requests by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// RPCDuration tracks dispatch latency in seconds
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutline_rpc_duration_seconds",
			Help:    "Envelope dispatch duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)
)

// Session metrics
var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutline_active_sessions",
			Help: "Number of live editing sessions",
		},
	)

	// DirectivesExecuted counts executor runs by directive kind and outcome (completed, failed)
	DirectivesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutline_directives_executed_total",
			Help: "Directives executed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// EditOperations counts timeline mutations by kind, including undo and redo
	EditOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutline_edit_operations_total",
			Help: "Timeline edit operations by kind",
		},
		[]string{"kind"},
	)
)

// Collaborator metrics
var (
	CollaboratorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutline_collaborator_errors_total",
			Help: "Failed calls to the media resolver, asset registry and webhook targets",
		},
		[]string{"collaborator"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutline_webhook_deliveries_total",
			Help: "Webhook deliveries by status",
		},
		[]string{"status"},
	)
)
