package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"route", "method", "code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	ActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_active_requests",
		Help: "Current in-flight requests",
	})

	// Provisioning engine metrics
	StepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_step_total",
		Help: "Provisioning step outcomes",
	}, []string{"action", "outcome"})

	StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orbit_step_duration_seconds",
		Help:    "Forward action execution duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"action"})

	StepRetryTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_step_retry_total",
		Help: "Transient step failures scheduled for retry",
	}, []string{"action"})

	RollbackStepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_rollback_step_total",
		Help: "Compensating action outcomes during rollback",
	}, []string{"action", "outcome"})

	WorkspaceStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_workspace_state_transitions_total",
		Help: "Workspace state transition count",
	}, []string{"from", "to"})

	// Scheduler metrics
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_queue_depth",
		Help: "Workspaces due for a provisioning transition",
	})

	ClaimEmptyTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_claim_empty_total",
		Help: "Empty scheduler poll count",
	})

	ClaimConflictTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_claim_conflict_total",
		Help: "Claims skipped because the workspace transition was already held",
	})

	LockWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbit_lock_wait_seconds",
		Help:    "Per-workspace advisory lock wait time",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// Lifecycle metrics
	WorkspacesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbit_workspaces_running",
		Help: "Currently running workspaces",
	})

	AutoStopTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_auto_stop_total",
		Help: "Workspaces stopped by the idle sweep",
	})

	LimitStopTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbit_limit_stop_total",
		Help: "Workspaces stopped by resource limit enforcement",
	}, []string{"resource"})

	// Sampler metrics
	SamplesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_samples_total",
		Help: "Metric samples collected",
	})

	SamplerGapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_sampler_gaps_total",
		Help: "Failed sampling attempts recorded as gaps",
	})

	UnreachableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbit_unreachable_total",
		Help: "Workspaces marked unreachable after consecutive sampling gaps",
	})
)

func RegisterAll(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, ActiveRequests,
		StepTotal, StepDuration, StepRetryTotal, RollbackStepTotal,
		WorkspaceStateTransitions,
		QueueDepth, ClaimEmptyTotal, ClaimConflictTotal, LockWaitSeconds,
		WorkspacesRunning, AutoStopTotal, LimitStopTotal,
		SamplesTotal, SamplerGapsTotal, UnreachableTotal,
	)
}
