package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages  *prometheus.CounterVec
	OutgoingReplies  *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	WorkflowOutcomes *prometheus.CounterVec
	WalletRequests   *prometheus.CounterVec
	WalletLatency    *prometheus.HistogramVec
	AddressChecks    *prometheus.CounterVec
	GraphRequests    *prometheus.CounterVec
	GraphLatency     *prometheus.HistogramVec
	Errors           *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = build(namespace)
		prometheus.MustRegister(metricsInstance.collectors()...)
	})
	return metricsInstance
}

// NewUnregistered builds a fresh set of collectors that is not attached to the
// default registry. Tests use it to assert on counters in isolation.
func NewUnregistered(namespace string) *Metrics {
	return build(namespace)
}

func build(namespace string) *Metrics {
	return &Metrics{
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Total inbound messages received by transport.",
		}, []string{"source"}),
		OutgoingReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outgoing_replies_total",
			Help:      "Total replies sent by transport and delivery status.",
		}, []string{"source", "status"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total classified commands by kind.",
		}, []string{"kind"}),
		WorkflowOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_outcomes_total",
			Help:      "Total workflow executions by command and terminal outcome.",
		}, []string{"command", "outcome"}),
		WalletRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_rpc_requests_total",
			Help:      "Total wallet RPC calls by method and status.",
		}, []string{"method", "status"}),
		WalletLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "wallet_rpc_duration_seconds",
			Help:      "Latency distribution for wallet RPC calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
		AddressChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "address_checks_total",
			Help:      "Total address validations by outcome.",
		}, []string{"outcome"}),
		GraphRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_requests_total",
			Help:      "Total Facebook Graph API requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		GraphLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_request_duration_seconds",
			Help:      "Latency distribution for Facebook Graph API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.InboundMessages,
		m.OutgoingReplies,
		m.Commands,
		m.WorkflowOutcomes,
		m.WalletRequests,
		m.WalletLatency,
		m.AddressChecks,
		m.GraphRequests,
		m.GraphLatency,
		m.Errors,
	}
}
