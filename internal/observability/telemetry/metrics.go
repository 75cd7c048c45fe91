package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pollers
	PollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_polls_total",
		Help: "Total de buscas de recursos por tipo e resultado",
	}, []string{"resource", "outcome"})

	PollTicksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_poll_ticks_dropped_total",
		Help: "Ticks descartados porque já havia uma busca em andamento",
	}, []string{"resource"})

	StaleResponsesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_stale_responses_discarded_total",
		Help: "Respostas descartadas por chegarem depois de uma mais recente",
	}, []string{"resource"})

	TrackedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigec_client_tracked_sessions",
		Help: "Número de carregadores acompanhados",
	})

	// Commands and cascade
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_commands_total",
		Help: "Comandos remotos despachados por tipo e resultado",
	}, []string{"kind", "outcome"})

	CascadeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_cascade_outcomes_total",
		Help: "Resultado das cascatas de reconciliação",
	}, []string{"kind", "outcome"})

	CascadeSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sigec_client_cascade_steps",
		Help:    "Passos executados até a cascata terminar",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8},
	})

	// Billing and wallet
	BillingReconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_billing_reconciliations_total",
		Help: "Reconciliações de cobrança por estado e origem",
	}, []string{"state", "source"})

	TopUpTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_topup_transitions_total",
		Help: "Transições do fluxo de recarga da carteira",
	}, []string{"to"})

	// Backend
	BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sigec_client_backend_latency_seconds",
		Help:    "Latência das chamadas à API REST do backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	// gRPC
	GRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigec_client_grpc_requests_total",
		Help: "Requisições gRPC por método e código de status",
	}, []string{"method", "status"})

	GRPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sigec_client_grpc_request_duration_seconds",
		Help:    "Duração das requisições gRPC",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
