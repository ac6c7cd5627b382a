package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage("writer", "writer", 2*time.Second, true, true)
	m.ObserveStage("keywords", "keyword_extractor", time.Millisecond, false, false)
	m.ObserveGate("compliance", false)
	m.ObserveGate("compliance", true)
	m.ObserveRefinement("compliance", 2)
	m.ObserveRun("default", "success", 40*time.Second, true)
	m.ObserveRuleFetch("postgres", "stale")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("keywords", "keyword_extractor", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateResults.WithLabelValues("compliance", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("default", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QualityThresholdMet.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleFetches.WithLabelValues("postgres", "stale")))

	n, err := testutil.GatherAndCount(reg, "factory_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
		New(nil)
	})
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("a", "b", time.Second, false, true)
		m.ObserveGate("seo", true)
		m.ObserveRefinement("seo", 1)
		m.ObserveRun("default", "fatal", time.Second, false)
		m.ObserveRuleFetch("file", "ok")
	})
}
