package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Loop states reported by SetLoopState.
var loopStates = []string{"idle", "running", "sleeping", "stopped"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processorTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clogs",
			Subsystem: "processor",
			Name:      "ticks_total",
			Help:      "Number of interval ticks per processor and result (ok, error, panic).",
		}, []string{"processor", "result"},
	)
	processorTickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clogs",
			Subsystem: "processor",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent in one interval tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"},
	)
	hookCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clogs",
			Subsystem: "processor",
			Name:      "hook_calls_total",
			Help:      "Number of processor hook invocations.",
		}, []string{"processor", "hook"},
	)
	hookFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clogs",
			Subsystem: "processor",
			Name:      "hook_failures_total",
			Help:      "Hook invocations discarded because of an error, a panic or a contract violation.",
		}, []string{"processor", "hook", "reason"},
	)
	loopState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clogs",
			Subsystem: "processor",
			Name:      "loop_state",
			Help:      "Current scheduler loop state per processor (1 = current state).",
		}, []string{"processor", "state"},
	)
	activeAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clogs",
			Subsystem: "agent",
			Name:      "active",
			Help:      "Agents whose latest heartbeat is within the liveness threshold.",
		},
	)
	ingested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clogs",
			Subsystem: "ingest",
			Name:      "entities_total",
			Help:      "Entities accepted by the collection API per entity type.",
		}, []string{"type"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processorTicks, processorTickDuration, hookCalls, hookFailures, loopState, activeAgents, ingested}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics gathered from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncTick(processor, result string) {
	if regOK.Load() {
		processorTicks.WithLabelValues(processor, result).Inc()
	}
}

func ObserveTickDuration(processor string, seconds float64) {
	if regOK.Load() {
		processorTickDuration.WithLabelValues(processor).Observe(seconds)
	}
}

func IncHookCall(processor, hook string) {
	if regOK.Load() {
		hookCalls.WithLabelValues(processor, hook).Inc()
	}
}

func IncHookFailure(processor, hook, reason string) {
	if regOK.Load() {
		hookFailures.WithLabelValues(processor, hook, reason).Inc()
	}
}

// SetLoopState marks state as the current one for processor and clears the others.
func SetLoopState(processor, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range loopStates {
		v := 0.0
		if s == state {
			v = 1
		}
		loopState.WithLabelValues(processor, s).Set(v)
	}
}

func SetActiveAgents(n int) {
	if regOK.Load() {
		activeAgents.Set(float64(n))
	}
}

func IncIngested(entityType string, n int) {
	if regOK.Load() && n > 0 {
		ingested.WithLabelValues(entityType).Add(float64(n))
	}
}
