package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
)

func TestScoreDriftMonitor_FirstWindowBecomesBaseline(t *testing.T) {
	m := observability.NewScoreDriftMonitor("drift-a", "1", "1", 3, 0.15)

	for _, v := range []float64{10, 20} {
		drift, drifted := m.RecordScore(observability.OverallMetric, v)
		assert.Zero(t, drift)
		assert.False(t, drifted)
	}
	_, ok := m.Baseline(observability.OverallMetric)
	assert.False(t, ok)

	m.RecordScore(observability.OverallMetric, 30)
	base, ok := m.Baseline(observability.OverallMetric)
	assert.True(t, ok)
	assert.Equal(t, 20.0, base)
}

func TestScoreDriftMonitor_DetectsDriftAgainstBaseline(t *testing.T) {
	m := observability.NewScoreDriftMonitor("drift-b", "2", "1", 2, 0.15)
	m.SetBaseline(observability.OverallMetric, 40)

	m.RecordScore(observability.OverallMetric, 41)
	drift, drifted := m.RecordScore(observability.OverallMetric, 43)
	assert.InDelta(t, 0.05, drift, 1e-9)
	assert.False(t, drifted)

	m.RecordScore(observability.OverallMetric, 60)
	drift, drifted = m.RecordScore(observability.OverallMetric, 60)
	assert.InDelta(t, 0.5, drift, 1e-9)
	assert.True(t, drifted)
	assert.Equal(t, []float64{60, 60}, m.RecentScores(observability.OverallMetric))
	assert.InDelta(t, 0.5, testutil.ToFloat64(observability.ScoreDriftGauge.WithLabelValues("drift-b", "2", "1", observability.OverallMetric)), 1e-9)
}

func TestScoreDriftMonitor_SmallBaselineUsesAbsoluteDrift(t *testing.T) {
	m := observability.NewScoreDriftMonitor("drift-c", "1", "1", 1, 0.15)
	m.SetBaseline("dimension:E", 0)
	drift, drifted := m.RecordScore("dimension:E", 0.1)
	assert.InDelta(t, 0.1, drift, 1e-9)
	assert.False(t, drifted)
}

func TestScoreDriftManager_KeysByInstrumentAndEngineVersion(t *testing.T) {
	g := observability.NewScoreDriftManager(5, 0.15)
	overall := 44.0
	g.Record("types", "1.0", "1", &overall, map[string]float64{"E": 6, "I": 2})
	g.Record("types", "1.1", "1", nil, map[string]float64{"E": 7})

	v1 := g.Monitor("types", "1.0", "1")
	assert.Same(t, v1, g.Monitor("types", "1.0", "1"))
	assert.Equal(t, []string{"dimension:E", "dimension:I", "overall"}, v1.Metrics())
	assert.Equal(t, []float64{44}, v1.RecentScores(observability.OverallMetric))

	v11 := g.Monitor("types", "1.1", "1")
	assert.NotSame(t, v1, v11)
	assert.Equal(t, []string{"dimension:E"}, v11.Metrics())
	assert.NotSame(t, v1, g.Monitor("types", "1.0", "2"))
}
