package telemetry

import "github.com/prometheus/client_golang/prometheus"

var InvocationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datahub",
		Subsystem: "invocation",
		Name:      "total",
		Help:      "Total number of capability invocations by outcome.",
	},
	[]string{"outcome"},
)

var InvocationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "datahub",
		Subsystem: "invocation",
		Name:      "duration_seconds",
		Help:      "Capability invocation verification duration in seconds.",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	},
	[]string{"outcome"},
)

var DocumentsWrittenTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datahub",
		Subsystem: "documents",
		Name:      "written_total",
		Help:      "Total number of document inserts and updates by operation.",
	},
	[]string{"operation"},
)

var QueriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datahub",
		Subsystem: "query",
		Name:      "total",
		Help:      "Total number of index queries by shape (has, equals, index-only).",
	},
	[]string{"shape"},
)

var SequenceConflictsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datahub",
		Subsystem: "store",
		Name:      "sequence_conflicts_total",
		Help:      "Total number of InvalidStateError sequence conflicts by record kind.",
	},
	[]string{"kind"},
)

var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "datahub",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

var SecurityAlertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "datahub",
		Subsystem: "alerting",
		Name:      "total",
		Help:      "Total number of security alerts dispatched by reason.",
	},
	[]string{"reason"},
)

// All returns the data hub's metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		InvocationsTotal,
		InvocationDuration,
		DocumentsWrittenTotal,
		QueriesTotal,
		SequenceConflictsTotal,
		HTTPRequestDuration,
		SecurityAlertsTotal,
	}
}
