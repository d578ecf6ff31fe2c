package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remit_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_transaction_transitions_total",
		Help: "Committed status transitions",
	}, []string{"from", "to"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_ledger_entries_total",
		Help: "Ledger entries written",
	}, []string{"type"})

	LedgerDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remit_ledger_drift_total",
		Help: "Accounts whose cached balance disagreed with the ledger",
	})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_webhook_events_total",
		Help: "Inbound webhook events by outcome",
	}, []string{"provider", "outcome"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_provider_calls_total",
		Help: "Outbound provider calls by result",
	}, []string{"provider", "operation", "result"})

	Sweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_sweep_actions_total",
		Help: "Transactions moved by the background sweeper",
	}, []string{"job"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_reconciliation_runs_total",
		Help: "Reconciliation runs by status",
	}, []string{"provider", "status"})
)
