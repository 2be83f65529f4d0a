package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "devdash"
	subsystem = "script"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	scriptStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "starts_total",
			Help:      "Number of script runs whose process was started.",
		}, []string{"script"},
	)
	scriptStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stops_total",
			Help:      "Number of graceful stop requests sent to running scripts.",
		}, []string{"script"},
	)
	scriptKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "kills_total",
			Help:      "Number of forced kills after the stop timeout elapsed.",
		}, []string{"script"},
	)
	scriptExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "exits_total",
			Help:      "Number of finished runs by result (completed or error).",
		}, []string{"script", "result"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall time between execute and process exit.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"script"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "running",
			Help:      "1 while the script has a live run, 0 otherwise.",
		}, []string{"script"},
	)
	outputChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "output_chunks_total",
			Help:      "Output chunks captured per stream.",
		}, []string{"script", "stream"},
	)

	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Number of lifecycle state transitions.",
		}, []string{"script", "from", "to"},
	)

	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "current_state",
			Help:      "Current lifecycle state of scripts (1 = active state, 0 = inactive).",
		}, []string{"script", "state"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{scriptStarts, scriptStops, scriptKills, scriptExits, runDuration, running, outputChunks, stateTransitions, currentStates}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Enabled reports whether Register has succeeded.
func Enabled() bool { return regOK.Load() }

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer, for callers that register into
// their own registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncStart(script string) {
	if regOK.Load() {
		scriptStarts.WithLabelValues(script).Inc()
		running.WithLabelValues(script).Set(1)
	}
}

func IncStop(script string) {
	if regOK.Load() {
		scriptStops.WithLabelValues(script).Inc()
	}
}

func IncKill(script string) {
	if regOK.Load() {
		scriptKills.WithLabelValues(script).Inc()
	}
}

// ObserveExit records a finished run. result is "completed" or "error".
func ObserveExit(script, result string, seconds float64) {
	if regOK.Load() {
		scriptExits.WithLabelValues(script, result).Inc()
		runDuration.WithLabelValues(script).Observe(seconds)
		running.WithLabelValues(script).Set(0)
	}
}

func IncOutputChunk(script, stream string) {
	if regOK.Load() {
		outputChunks.WithLabelValues(script, stream).Inc()
	}
}

func RecordStateTransition(script, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(script, from, to).Inc()
	}
}

func SetCurrentState(script, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(script, state).Set(value)
	}
}

// Forget drops every series of a deleted script.
func Forget(script string) {
	if !regOK.Load() {
		return
	}
	l := prometheus.Labels{"script": script}
	scriptStarts.DeletePartialMatch(l)
	scriptStops.DeletePartialMatch(l)
	scriptKills.DeletePartialMatch(l)
	scriptExits.DeletePartialMatch(l)
	runDuration.DeletePartialMatch(l)
	running.DeletePartialMatch(l)
	outputChunks.DeletePartialMatch(l)
	stateTransitions.DeletePartialMatch(l)
	currentStates.DeletePartialMatch(l)
}
