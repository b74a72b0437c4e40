package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of Prometheus collectors the orchestrator exposes on
// its /metrics endpoint. Grouped into one struct so components receive it
// by dependency injection rather than reaching for package-level globals,
// matching the teacher's "constructed once at boot, passed explicitly"
// principle (spec §9).
type Metrics struct {
	TasksDispatched   *prometheus.CounterVec
	TasksTerminal     *prometheus.CounterVec
	TaskRetries       *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	PauseQueueDepth   prometheus.Gauge
	LLMProviderCalls  *prometheus.CounterVec
	AuditWrites       *prometheus.CounterVec
	PlanningDuration  prometheus.Histogram
}

// NewMetrics creates all collectors, registers them against reg, and
// returns them; callers keep reg so they can expose it over HTTP.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		TasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_dispatched_total",
			Help: "Tasks handed off to an agent for execution.",
		}, []string{"work_type"}),
		TasksTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_terminal_total",
			Help: "Tasks that reached a terminal status.",
		}, []string{"status"}),
		TaskRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_task_retries_total",
			Help: "Retry attempts applied to tasks, by error code.",
		}, []string{"error_code"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_agent_breaker_state",
			Help: "Circuit breaker state per agent: 0=closed 1=half-open 2=open.",
		}, []string{"agent_id"}),
		PauseQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_pause_queue_depth",
			Help: "Tasks currently parked in the pause queue.",
		}),
		LLMProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_llm_provider_calls_total",
			Help: "LLM Gateway calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		AuditWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_audit_writes_total",
			Help: "Audit artifact writes by outcome.",
		}, []string{"outcome"}),
		PlanningDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_planning_duration_seconds",
			Help:    "Time to produce a validated plan from a request.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.TasksDispatched, m.TasksTerminal, m.TaskRetries, m.BreakerState,
		m.PauseQueueDepth, m.LLMProviderCalls, m.AuditWrites, m.PlanningDuration,
	)
	return m
}
