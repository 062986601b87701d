// Package metrics exposes engine behaviour as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadiminshakov/statefuse/internal/domain"
	"github.com/vadiminshakov/statefuse/internal/events"
)

// Recorder records engine metrics into its own registry.
type Recorder struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	degradedFusions  prometheus.Counter
	outliers         *prometheus.CounterVec
	fusedValue       prometheus.Gauge
	fusedConfidence  prometheus.Gauge
	transitions      *prometheus.CounterVec
	currentState     *prometheus.GaugeVec
	executions       *prometheus.CounterVec
	positionSize     *prometheus.GaugeVec
	strategyFailures *prometheus.CounterVec
}

// New creates a recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statefuse_cycles_total",
				Help: "Decision cycles attempted, by lock outcome",
			},
			[]string{"lock"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "statefuse_cycle_duration_seconds",
				Help:    "Duration of decision cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		degradedFusions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "statefuse_degraded_fusions_total",
				Help: "Fusions that fell back to degraded mode",
			},
		),
		outliers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statefuse_outliers_rejected_total",
				Help: "Readings rejected as outliers, by source",
			},
			[]string{"source"},
		),
		fusedValue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "statefuse_fused_value",
				Help: "Last fused market value",
			},
		),
		fusedConfidence: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "statefuse_fused_confidence",
				Help: "Confidence of the last fused estimate (0-100)",
			},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statefuse_state_transitions_total",
				Help: "Proposed state transitions, by target and verdict",
			},
			[]string{"from", "to", "result"},
		),
		currentState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "statefuse_current_state",
				Help: "1 for the current market state, 0 otherwise",
			},
			[]string{"state"},
		),
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statefuse_executions_total",
				Help: "Executor runs, by status",
			},
			[]string{"status"},
		),
		positionSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "statefuse_position_size",
				Help: "Signed position size per asset",
			},
			[]string{"asset"},
		),
		strategyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "statefuse_strategy_failures_total",
				Help: "Strategy runs that fell back to the safe default",
			},
			[]string{"strategy"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordDecision folds a finished cycle into the collectors.
func (r *Recorder) RecordDecision(d domain.DecisionRecord) {
	r.cycles.WithLabelValues(string(d.Lock)).Inc()
	if !d.StartedAt.IsZero() && !d.FinishedAt.IsZero() {
		r.cycleDuration.Observe(d.FinishedAt.Sub(d.StartedAt).Seconds())
	}

	if d.Estimate.Degraded {
		r.degradedFusions.Inc()
	}
	if d.Estimate.HasValue() {
		r.fusedValue.Set(d.Estimate.Value.InexactFloat64())
	}
	r.fusedConfidence.Set(float64(d.Estimate.Confidence))

	if d.Transition != nil {
		result := "accepted"
		if !d.Transition.Valid {
			result = "rejected"
		}
		r.transitions.WithLabelValues(string(d.PreviousState), string(d.ProposedState), result).Inc()
	}
	if d.CurrentState != "" {
		r.SetState(d.CurrentState)
	}

	if d.Execution != "" {
		r.executions.WithLabelValues(string(d.Execution)).Inc()
	}
}

// SetState marks state as current.
func (r *Recorder) SetState(state domain.MarketState) {
	for _, s := range domain.AllMarketStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.currentState.WithLabelValues(string(s)).Set(v)
	}
}

// SetPosition records the signed position size for an asset.
func (r *Recorder) SetPosition(pos *domain.Position) {
	if pos == nil {
		return
	}
	r.positionSize.WithLabelValues(pos.Asset).Set(pos.Size.InexactFloat64())
}

// Emit counts events that have no other metric hook.
func (r *Recorder) Emit(e events.Event) {
	switch e.Type {
	case events.OutlierRejected:
		source, _ := e.Fields["source"].(string)
		r.outliers.WithLabelValues(source).Inc()
	case events.StrategyFailed:
		strategy, _ := e.Fields["strategy"].(string)
		r.strategyFailures.WithLabelValues(strategy).Inc()
	}
}

