// Package telemetry carries the process-wide metrics and cost accounting for
// the research engine. All methods are nil-safe so callers can run without
// telemetry wired, e.g. in tests.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Telemetry struct {
	registry *prometheus.Registry

	tasksSubmitted prometheus.Counter
	tasksTerminal  *prometheus.CounterVec
	iterations     prometheus.Counter
	retries        *prometheus.CounterVec
	gaps           *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
	eventsDropped  prometheus.Counter

	cost *CostTracker
}

// New builds a Telemetry backed by its own registry so tests and multiple
// instances never collide on the default one.
func New() *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		registry: reg,
		tasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dossier", Name: "tasks_submitted_total",
			Help: "Research tasks accepted by the manager.",
		}),
		tasksTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossier", Name: "tasks_terminal_total",
			Help: "Research tasks reaching a terminal status.",
		}, []string{"status"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dossier", Name: "refinement_iterations_total",
			Help: "Refinement iterations executed across all tasks.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossier", Name: "agent_retries_total",
			Help: "Specialist agent retries after transient capability errors.",
		}, []string{"section"}),
		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dossier", Name: "gaps_recorded_total",
			Help: "Data gaps recorded in place of hard failures.",
		}, []string{"kind"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dossier", Name: "agent_run_seconds",
			Help:    "Specialist agent run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"section", "outcome"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dossier", Name: "events_dropped_total",
			Help: "Progress events dropped because a subscriber buffer was full.",
		}),
		cost: NewCostTracker(),
	}
	reg.MustRegister(t.tasksSubmitted, t.tasksTerminal, t.iterations, t.retries, t.gaps, t.agentDuration, t.eventsDropped)
	return t
}

// Handler exposes the metrics endpoint for this instance's registry.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) RecordTaskSubmitted() {
	if t == nil {
		return
	}
	t.tasksSubmitted.Inc()
}

func (t *Telemetry) RecordTaskTerminal(status string) {
	if t == nil {
		return
	}
	t.tasksTerminal.WithLabelValues(status).Inc()
}

func (t *Telemetry) RecordIteration() {
	if t == nil {
		return
	}
	t.iterations.Inc()
}

func (t *Telemetry) RecordRetry(section string) {
	if t == nil {
		return
	}
	t.retries.WithLabelValues(section).Inc()
}

func (t *Telemetry) RecordGap(kind string) {
	if t == nil {
		return
	}
	t.gaps.WithLabelValues(kind).Inc()
}

func (t *Telemetry) RecordEventDropped() {
	if t == nil {
		return
	}
	t.eventsDropped.Inc()
}

func (t *Telemetry) ObserveAgentRun(section string, d time.Duration, err error) {
	if t == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.agentDuration.WithLabelValues(section, outcome).Observe(d.Seconds())
}

// AddCost records LLM spend attributed to a model.
func (t *Telemetry) AddCost(model string, tokens int64, cost float64) {
	if t == nil {
		return
	}
	t.cost.Add(model, tokens, cost)
}

// Cost returns the cost tracker, or nil when telemetry is disabled.
func (t *Telemetry) Cost() *CostTracker {
	if t == nil {
		return nil
	}
	return t.cost
}
