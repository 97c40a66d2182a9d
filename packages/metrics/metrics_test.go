package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	m.Record("create", 100*time.Millisecond, true)
	m.Record("fetch", 150*time.Millisecond, true)
	m.Record("fetch", 200*time.Millisecond, false)

	s := m.Summary()
	assert.Equal(t, int64(3), s.Requests)
	assert.Equal(t, int64(1), s.Failed)
	require.Len(t, s.Steps, 2)
	assert.Equal(t, "create", s.Steps[0].Name)
	assert.Equal(t, "fetch", s.Steps[1].Name)
	assert.Equal(t, int64(2), s.Steps[1].Requests)
	assert.Equal(t, int64(1), s.Steps[1].Failed)

	assert.InDelta(t, float64(100*time.Millisecond), float64(s.Latency.Min), float64(time.Millisecond))
	assert.InDelta(t, float64(200*time.Millisecond), float64(s.Latency.Max), float64(time.Millisecond))
	assert.InDelta(t, float64(150*time.Millisecond), float64(s.Latency.P50), float64(time.Millisecond))
}

func TestMetrics_Clamp(t *testing.T) {
	m := NewMetrics()
	m.Record("", 0, true)
	m.Record("", 2*time.Minute, true)

	s := m.Summary()
	assert.Equal(t, int64(2), s.Requests)
	assert.Empty(t, s.Steps)
	assert.Equal(t, time.Microsecond, s.Latency.Min)
	assert.InDelta(t, float64(time.Minute), float64(s.Latency.Max), float64(time.Second))
}

func TestMetrics_Empty(t *testing.T) {
	s := NewMetrics().Summary()
	assert.Zero(t, s.Requests)
	assert.Equal(t, Latency{}, s.Latency)
}

func TestSummary_Evaluate(t *testing.T) {
	m := NewMetrics()
	for i := 1; i <= 100; i++ {
		m.Record("step", time.Duration(i)*time.Millisecond, true)
	}

	results := m.Summary().Evaluate(Thresholds{P95: 200 * time.Millisecond, Max: 50 * time.Millisecond})
	require.Len(t, results, 2)
	assert.Equal(t, "p95", results[0].Name)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "max", results[1].Name)
	assert.False(t, results[1].Passed)

	assert.Empty(t, m.Summary().Evaluate(Thresholds{}))
}
