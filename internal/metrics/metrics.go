// Package metrics exposes Prometheus instrumentation for the core,
// grounded on wisbric-nightowl's internal/telemetry package. This is an
// additive observability surface over the spec's own heartbeat/health
// wire messages, not a replacement for them (see SPEC_FULL.md §2).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HeartbeatsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "heartbeat",
			Name:      "sent_total",
			Help:      "Total number of heartbeat messages published by this node.",
		},
		[]string{"node"},
	)

	ProbesHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "health",
			Name:      "probes_handled_total",
			Help:      "Total number of health probes answered by this node.",
		},
		[]string{"node"},
	)

	OperationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "storage",
			Name:      "operations_applied_total",
			Help:      "Total number of operations successfully applied by the Storage Manager.",
		},
		[]string{"node", "op"},
	)

	OperationsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "storage",
			Name:      "operations_rejected_total",
			Help:      "Total number of business-rule rejections by the Storage Manager.",
		},
		[]string{"node", "op", "reason"},
	)

	ReplicationPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "replication",
			Name:      "published_total",
			Help:      "Total number of operations published to the peer site.",
		},
		[]string{"node"},
	)

	ReplicationAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "replication",
			Name:      "applied_total",
			Help:      "Total number of remote operations applied locally.",
		},
		[]string{"node"},
	)

	OplogSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "biblored",
			Subsystem: "oplog",
			Name:      "entries",
			Help:      "Current number of entries retained in the operation log.",
		},
		[]string{"node"},
	)

	CCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biblored",
			Subsystem: "coordinator",
			Name:      "requests_total",
			Help:      "Total number of client requests handled by the Central Coordinator.",
		},
		[]string{"node", "op", "status"},
	)
)

// Registry is a dedicated registry (rather than prometheus.DefaultRegisterer)
// so that each of the per-site binaries registers its own metric family
// without colliding with other in-process collectors in tests.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HeartbeatsSentTotal,
		ProbesHandledTotal,
		OperationsAppliedTotal,
		OperationsRejectedTotal,
		ReplicationPublishedTotal,
		ReplicationAppliedTotal,
		OplogSize,
		CCRequestsTotal,
	)
}
