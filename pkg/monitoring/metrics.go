package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts total requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	// RequestDuration measures request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	// LedgerEntriesTotal counts appended ledger entries.
	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_ledger_entries_total",
			Help: "Total number of ledger entries appended",
		},
		[]string{"direction", "source"},
	)

	// LedgerTokensTotal sums token amounts moved through the ledger.
	LedgerTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_ledger_tokens_total",
			Help: "Total tokens credited or debited",
		},
		[]string{"direction", "source"},
	)

	// WalletRejectionsTotal counts rejected wallet adjustments.
	WalletRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_wallet_rejections_total",
			Help: "Wallet adjustments rejected by reason",
		},
		[]string{"reason"},
	)

	// RoutingDecisionsTotal counts routing decisions per strategy and worker.
	RoutingDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_router_routing_decisions_total",
			Help: "Total number of routing decisions",
		},
		[]string{"strategy", "worker_id"},
	)

	// RoutingFailuresTotal counts failed routing attempts.
	RoutingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_router_routing_failures_total",
			Help: "Total number of failed routing attempts",
		},
		[]string{"strategy", "reason"},
	)

	// ExecutionsTotal counts finished executions.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_router_executions_total",
			Help: "Total number of executions by final status",
		},
		[]string{"status"},
	)

	// ExecutionTokens measures tokens consumed per execution.
	ExecutionTokens = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "token_router_execution_tokens",
			Help:    "Tokens consumed per execution",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		},
	)

	// WorkersByState reports worker counts from the last health sweep.
	WorkersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "token_router_workers",
			Help: "Workers by status, plus stale heartbeats",
		},
		[]string{"state"},
	)
)
