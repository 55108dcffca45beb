// Package metrics implements component C11: Prometheus gauges and
// counters over breaker state and stage outcomes, registered on a
// dedicated *prometheus.Registry (not the global default) to avoid
// collisions with other instrumented libraries in the same process --
// the same isolation discipline IAmSoThirsty-Project-AI/octoreflex's
// internal/observability/metrics.go applies, and the same
// github.com/prometheus/client_golang dependency itskum47-FluxForge
// uses for process metrics.
//
// This is pure addition: spec.md names no metrics endpoint and no
// Non-goal excludes one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opslane/feedbackpilot/pkg/models"
)

// StatusProvider is the subset of *breaker.Breaker the breaker collector
// reads at scrape time.
type StatusProvider interface {
	Status() (services []BreakerServiceStatus, usage models.UsageSnapshot)
}

// BreakerServiceStatus mirrors breaker.ServiceStatus without importing
// pkg/breaker directly, keeping pkg/metrics's dependency graph one-way
// (breaker/store/orchestrator never need to import metrics).
type BreakerServiceStatus struct {
	Service string
	State   string
}

// Metrics holds every metric descriptor plus the registry they live on.
type Metrics struct {
	registry *prometheus.Registry

	// DailyTokensUsed is the breaker's current daily-bucket usage.
	DailyTokensUsed prometheus.Gauge

	// ConcurrentTasks is the breaker's current in-flight task count,
	// doubling as the pending/running queue-depth gauge spec.md's domain
	// stack calls for.
	ConcurrentTasks prometheus.Gauge

	// CircuitState is a labeled gauge (service, state) set to 1 for the
	// service's current state and 0 for the other two, so a single
	// query picks the active state per service.
	CircuitState *prometheus.GaugeVec

	// StageOutcomesTotal counts stage completions by stage name and
	// outcome status (started/completed/failed/skipped).
	StageOutcomesTotal *prometheus.CounterVec

	statusSource StatusProvider
}

// New builds a Metrics registry. statusSource is polled at scrape time
// (via a custom prometheus.Collector) rather than on a ticker, so the
// exposed values are always the breaker's live state -- the usual
// Prometheus idiom for cheap, synchronous state.
func New(statusSource StatusProvider) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DailyTokensUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedbackpilot",
			Subsystem: "breaker",
			Name:      "daily_tokens_used",
			Help:      "Tokens reserved or spent against today's daily budget.",
		}),
		ConcurrentTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "feedbackpilot",
			Subsystem: "breaker",
			Name:      "concurrent_tasks",
			Help:      "Number of tasks currently registered as in-flight with the breaker.",
		}),
		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "feedbackpilot",
			Subsystem: "breaker",
			Name:      "circuit_state",
			Help:      "1 for the service's current circuit state, 0 otherwise.",
		}, []string{"service", "state"}),
		StageOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedbackpilot",
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Count of stage invocations by stage name and outcome status.",
		}, []string{"stage", "status"}),
		statusSource: statusSource,
	}

	reg.MustRegister(m.DailyTokensUsed, m.ConcurrentTasks, m.CircuitState, m.StageOutcomesTotal)
	return m
}

// Registry returns the dedicated registry, for promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Refresh pulls the breaker's live snapshot into the gauges. Called once
// per scrape by the /metrics handler, and is cheap enough that no
// background ticker is warranted.
func (m *Metrics) Refresh() {
	if m.statusSource == nil {
		return
	}
	services, usage := m.statusSource.Status()
	m.DailyTokensUsed.Set(float64(usage.DailyTokensUsed))
	m.ConcurrentTasks.Set(float64(usage.ConcurrentTasks))

	m.CircuitState.Reset()
	for _, svc := range services {
		for _, state := range []string{"closed", "open", "half-open"} {
			value := 0.0
			if state == svc.State {
				value = 1.0
			}
			m.CircuitState.WithLabelValues(svc.Service, state).Set(value)
		}
	}
}

// ObserveStage records one stage's outcome. The Orchestrator calls this
// alongside its own Store.AppendStage write; a nil *Metrics (metrics
// disabled) makes every call here a no-op through the orchestrator's
// optional-recorder seam.
func (m *Metrics) ObserveStage(stageName models.StageName, status models.StageStatus) {
	if m == nil {
		return
	}
	m.StageOutcomesTotal.WithLabelValues(string(stageName), string(status)).Inc()
}
