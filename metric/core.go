package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all runtime-level metrics (not agent-domain-specific)
type Metrics struct {
	// Router metrics
	RuntimeStatus      prometheus.Gauge
	MessagesSent       *prometheus.CounterVec
	MessagesPublished  *prometheus.CounterVec
	DeliveryQueueDepth prometheus.Gauge
	PendingRequests    prometheus.Gauge
	CorrelationErrors  prometheus.Counter

	// Agent metrics
	ActivationsTotal *prometheus.CounterVec
	MailboxDepth     *prometheus.GaugeVec
	HandlerDuration  *prometheus.HistogramVec
	HandlerErrors    *prometheus.CounterVec

	// Registry metrics
	RegistryWrites    *prometheus.CounterVec
	RegistryConflicts prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RuntimeStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentruntime",
				Subsystem: "router",
				Name:      "status",
				Help:      "Runtime status (0=stopped, 1=running)",
			},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of point-to-point sends",
			},
			[]string{"agent_type", "status"},
		),

		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "messages",
				Name:      "published_total",
				Help:      "Total number of topic publications",
			},
			[]string{"topic_type", "status"},
		),

		DeliveryQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentruntime",
				Subsystem: "router",
				Name:      "delivery_queue_depth",
				Help:      "Deliveries waiting in the router's queue",
			},
		),

		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentruntime",
				Subsystem: "router",
				Name:      "pending_requests",
				Help:      "RPC requests awaiting their correlated response",
			},
		),

		CorrelationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "router",
				Name:      "correlation_errors_total",
				Help:      "Responses that arrived for unknown request ids",
			},
		),

		ActivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "agents",
				Name:      "activations_total",
				Help:      "Agent instances constructed on demand",
			},
			[]string{"agent_type"},
		),

		MailboxDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentruntime",
				Subsystem: "agents",
				Name:      "mailbox_depth",
				Help:      "Messages waiting in agent mailboxes",
			},
			[]string{"agent_type"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentruntime",
				Subsystem: "agents",
				Name:      "handler_duration_seconds",
				Help:      "Handler execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent_type"},
		),

		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "agents",
				Name:      "handler_errors_total",
				Help:      "Handler failures by kind",
			},
			[]string{"agent_type", "kind"},
		),

		RegistryWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "registry",
				Name:      "writes_total",
				Help:      "Registry write cycles by operation and outcome",
			},
			[]string{"operation", "status"},
		),

		RegistryConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentruntime",
				Subsystem: "registry",
				Name:      "write_conflicts_total",
				Help:      "Optimistic-concurrency write conflicts",
			},
		),
	}
}

// collectors returns every metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RuntimeStatus,
		m.MessagesSent,
		m.MessagesPublished,
		m.DeliveryQueueDepth,
		m.PendingRequests,
		m.CorrelationErrors,
		m.ActivationsTotal,
		m.MailboxDepth,
		m.HandlerDuration,
		m.HandlerErrors,
		m.RegistryWrites,
		m.RegistryConflicts,
	}
}
