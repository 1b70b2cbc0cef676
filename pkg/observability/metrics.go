// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the codegate server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets covers executions from a quick print to the longest
// allowed deadline.
var ExecutionBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// RequestBuckets covers HTTP requests. Approve requests include the
// execution and can take as long as it does.
var RequestBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codegate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method", "route"},
	)

	// StepStreams tracks open websocket step streams.
	StepStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codegate_step_streams_active",
			Help: "Active step streams",
		},
	)

	// ProposalsTotal counts proposals by result (accepted, rejected, replaced).
	ProposalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_proposals_total",
			Help: "Code proposals",
		},
		[]string{"result"},
	)

	// GateDecisionsTotal counts human decisions on proposals.
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_gate_decisions_total",
			Help: "Approval gate decisions",
		},
		[]string{"decision"},
	)

	// ExecutionsTotal counts finished executions by backend and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_executions_total",
			Help: "Executions",
		},
		[]string{"backend", "outcome"},
	)

	// ExecutionDuration records wall-clock execution time in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codegate_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"backend", "outcome"},
	)

	// ExecutionsInFlight tracks executions currently running.
	ExecutionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codegate_executions_in_flight",
			Help: "Executions in flight",
		},
	)

	// HarnessFaultsTotal counts executions that failed in the harness itself.
	HarnessFaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_harness_faults_total",
			Help: "Harness faults",
		},
		[]string{"backend"},
	)

	// FeedbackTotal counts feedback votes.
	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_feedback_total",
			Help: "Feedback votes",
		},
		[]string{"vote"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codegate_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StepStreams,
		ProposalsTotal,
		GateDecisionsTotal,
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInFlight,
		HarnessFaultsTotal,
		FeedbackTotal,
		RateLimitRejectedTotal,
	)
}
