// Package metrics keeps latency statistics for the requests of a run.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// latencies are recorded in microseconds between 1us and 60s
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
	sigFigs      = 3
)

// Metrics collects request latencies, overall and per step path.
type Metrics struct {
	mu        sync.Mutex
	total     int64
	failed    int64
	histogram *hdrhistogram.Histogram
	steps     map[string]*stepMetrics
}

type stepMetrics struct {
	total     int64
	failed    int64
	histogram *hdrhistogram.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs),
		steps:     make(map[string]*stepMetrics),
	}
}

// Record adds one request. Requests that never got a response should not
// be recorded; their duration says nothing about the server.
func (m *Metrics) Record(name string, duration time.Duration, passed bool) {
	us := clamp(duration.Microseconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if !passed {
		m.failed++
	}
	_ = m.histogram.RecordValue(us)

	if name == "" {
		return
	}
	sm, ok := m.steps[name]
	if !ok {
		sm = &stepMetrics{histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs)}
		m.steps[name] = sm
	}
	sm.total++
	if !passed {
		sm.failed++
	}
	_ = sm.histogram.RecordValue(us)
}

func clamp(us int64) int64 {
	if us < minLatencyUs {
		return minLatencyUs
	}
	if us > maxLatencyUs {
		return maxLatencyUs
	}
	return us
}

// Latency is a percentile breakdown of one histogram.
type Latency struct {
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	Mean time.Duration `json:"mean"`
}

type Summary struct {
	Requests int64         `json:"requests"`
	Failed   int64         `json:"failed"`
	Latency  Latency       `json:"latency"`
	Steps    []StepSummary `json:"steps,omitempty"`
}

type StepSummary struct {
	Name     string  `json:"name"`
	Requests int64   `json:"requests"`
	Failed   int64   `json:"failed"`
	Latency  Latency `json:"latency"`
}

func latencyOf(h *hdrhistogram.Histogram) Latency {
	if h.TotalCount() == 0 {
		return Latency{}
	}
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return Latency{
		P50:  us(h.ValueAtQuantile(50)),
		P95:  us(h.ValueAtQuantile(95)),
		P99:  us(h.ValueAtQuantile(99)),
		Min:  us(h.Min()),
		Max:  us(h.Max()),
		Mean: time.Duration(h.Mean() * float64(time.Microsecond)),
	}
}

// Summary returns the statistics so far. Steps are ordered by name.
func (m *Metrics) Summary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Summary{
		Requests: m.total,
		Failed:   m.failed,
		Latency:  latencyOf(m.histogram),
		Steps:    make([]StepSummary, 0, len(m.steps)),
	}
	for name, sm := range m.steps {
		s.Steps = append(s.Steps, StepSummary{
			Name:     name,
			Requests: sm.total,
			Failed:   sm.failed,
			Latency:  latencyOf(sm.histogram),
		})
	}
	sort.Slice(s.Steps, func(i, j int) bool { return s.Steps[i].Name < s.Steps[j].Name })
	return s
}

// Thresholds are upper bounds on run latency. Zero disables a bound.
type Thresholds struct {
	P95 time.Duration
	P99 time.Duration
	Max time.Duration
}

type ThresholdResult struct {
	Name     string
	Passed   bool
	Expected time.Duration
	Actual   time.Duration
}

// Evaluate checks the summary against t.
func (s *Summary) Evaluate(t Thresholds) []ThresholdResult {
	var results []ThresholdResult
	check := func(name string, limit, actual time.Duration) {
		if limit <= 0 {
			return
		}
		results = append(results, ThresholdResult{Name: name, Passed: actual <= limit, Expected: limit, Actual: actual})
	}
	check("p95", t.P95, s.Latency.P95)
	check("p99", t.P99, s.Latency.P99)
	check("max", t.Max, s.Latency.Max)
	return results
}
