// Package metrics defines the pipeline's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one registry.
//
// Metrics:
//   - factory_runs_total{pipeline,outcome}
//   - factory_run_duration_seconds{pipeline}
//   - factory_stage_duration_seconds{slot,stage}
//   - factory_stage_failures_total{slot,stage,required}
//   - factory_gate_results_total{check,passed}
//   - factory_refinement_attempts{trigger}
//   - factory_quality_threshold_met_total{met}
//   - factory_rule_fetches_total{source,result}
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	StageDuration       *prometheus.HistogramVec
	StageFailures       *prometheus.CounterVec
	GateResults         *prometheus.CounterVec
	RefinementAttempts  *prometheus.HistogramVec
	QualityThresholdMet *prometheus.CounterVec
	RuleFetches         *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry, so
// collectors never leak into the default one by accident.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_runs_total",
			Help: "Pipeline runs by outcome (success, fatal).",
		}, []string{"pipeline", "outcome"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factory_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: []float64{1, 5, 10, 30, 60, 90, 120, 180, 300},
		}, []string{"pipeline"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factory_stage_duration_seconds",
			Help:    "Duration of individual stages.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"slot", "stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_stage_failures_total",
			Help: "Stage failures, split by whether the slot was required.",
		}, []string{"slot", "stage", "required"}),
		GateResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_gate_results_total",
			Help: "Quality gate verdicts per check.",
		}, []string{"check", "passed"}),
		RefinementAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "factory_refinement_attempts",
			Help:    "Rewrite attempts per refinement loop.",
			Buckets: []float64{0, 1, 2, 3, 5},
		}, []string{"trigger"}),
		QualityThresholdMet: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_quality_threshold_met_total",
			Help: "Finished runs by whether both gates passed.",
		}, []string{"met"}),
		RuleFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_rule_fetches_total",
			Help: "Rule source fetches by result (ok, stale, fallback, error).",
		}, []string{"source", "result"}),
	}
}

// ObserveStage records one stage run.
func (m *Metrics) ObserveStage(slot, stage string, d time.Duration, success, required bool) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(slot, stage).Observe(d.Seconds())
	if !success {
		m.StageFailures.WithLabelValues(slot, stage, boolLabel(required)).Inc()
	}
}

// ObserveGate records one check verdict.
func (m *Metrics) ObserveGate(check string, passed bool) {
	if m == nil {
		return
	}
	m.GateResults.WithLabelValues(check, boolLabel(passed)).Inc()
}

// ObserveRefinement records the attempts one loop used.
func (m *Metrics) ObserveRefinement(trigger string, attempts int) {
	if m == nil {
		return
	}
	m.RefinementAttempts.WithLabelValues(trigger).Observe(float64(attempts))
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(pipeline, outcome string, d time.Duration, qualityMet bool) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(pipeline, outcome).Inc()
	m.RunDuration.WithLabelValues(pipeline).Observe(d.Seconds())
	if outcome == "success" {
		m.QualityThresholdMet.WithLabelValues(boolLabel(qualityMet)).Inc()
	}
}

// ObserveRuleFetch records one rule provider fetch.
func (m *Metrics) ObserveRuleFetch(source, result string) {
	if m == nil {
		return
	}
	m.RuleFetches.WithLabelValues(source, result).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
