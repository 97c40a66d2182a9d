package output

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/assertions"
	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(name string) *runner.StepResult {
	v := assertions.NewValidation()
	v.Add(&assertions.Detail{Name: "status", Check: "2xx", Rendered: "200", Result: true})
	return &runner.StepResult{
		Name: name, Method: "GET", URL: "http://api/" + name, Status: 200,
		Validation: v, Vars: map[string]any{"id": "u-1"}, Stack: []runner.StackFrame{},
		Duration: 12 * time.Millisecond, DurationMs: 12,
	}
}

func sampleRun() *runner.RunResult {
	idx := 1
	failed := passing("fetch")
	failed.Stack = []runner.StackFrame{{Kind: "loop", Name: "each", Index: &idx}}
	failed.Validation.Add(&assertions.Detail{Name: "shape", Check: "eq body.ok true", Rendered: "false"})

	broken := &runner.StepResult{Name: "grab", Err: errors.New(`no header "ETag" in response`)}
	broken.Validation = assertions.NewValidation()
	broken.Validation.Add(&assertions.Detail{Name: "runtime", Check: "grab", Error: broken.Err.Error()})

	return &runner.RunResult{
		Script:   "users",
		File:     "users.yaml",
		Results:  []*runner.StepResult{passing("create"), failed, broken},
		Duration: 50 * time.Millisecond,
		Passed:   1,
		Failed:   2,
		Err:      errors.New(`step "grab": no header "ETag" in response`),
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"console", "json", "junit", "tap"} {
		f, err := New(name, Options{Writer: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.NotNil(t, f)
	}
	_, err := New("html", Options{})
	assert.ErrorContains(t, err, `unknown output format "html"`)
}

func TestConsoleFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewConsoleFormatter(WithWriter(&buf), WithNoColor(true), WithVerbose(true))
	f.FormatResult(sampleRun())

	m := metrics.NewMetrics()
	m.Record("create", 12*time.Millisecond, true)
	f.FormatLatency(m.Summary())

	out := buf.String()
	assert.Contains(t, out, "Running: users.yaml")
	assert.Contains(t, out, "✓ create (12ms)")
	assert.Contains(t, out, "✗ each[1] > fetch")
	assert.Contains(t, out, "shape: eq body.ok true (rendered false)")
	assert.Contains(t, out, `x grab (no header "ETag" in response)`)
	assert.Contains(t, out, "GET http://api/create -> 200")
	assert.Contains(t, out, "id = u-1")
	assert.Contains(t, out, "Stopped:")
	assert.Contains(t, out, "1 passed, 2 failed, 3 total")
	assert.Contains(t, out, "Latency: p50")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJSONFormatter(JSONWithWriter(&buf))
	f.FormatResult(sampleRun())
	f.FormatError(errors.New("other.yaml: bad document"))
	require.NoError(t, f.Flush(time.Second))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, map[string]any{"total": 3.0, "passed": 1.0, "failed": 2.0}, doc["summary"])
	assert.Equal(t, []any{"other.yaml: bad document"}, doc["errors"])

	runs := doc["runs"].([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)
	assert.Equal(t, "users", run["script"])
	assert.Contains(t, run["error"], "ETag")

	results := run["results"].([]any)
	require.Len(t, results, 3)
	first := results[0].(map[string]any)
	assert.Equal(t, "create", first["name"])
	assert.Equal(t, 200.0, first["status"])
	assert.Equal(t, 12.0, first["duration"])
	assert.Equal(t, map[string]any{"id": "u-1"}, first["vars"])
	assert.Equal(t, []any{}, first["stack"])

	second := results[1].(map[string]any)
	stack := second["stack"].([]any)
	assert.Equal(t, 1.0, stack[0].(map[string]any)["index"])

	third := results[2].(map[string]any)
	assert.NotContains(t, third, "status", "errored steps carry no status")
}

func TestJUnitFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewJUnitFormatter(JUnitWithWriter(&buf))
	f.FormatResult(sampleRun())
	require.NoError(t, f.Flush(time.Second))

	var suites JUnitTestSuites
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &suites))
	assert.Equal(t, 3, suites.Tests)
	assert.Equal(t, 1, suites.Failures)
	assert.Equal(t, 1, suites.Errors)

	require.Len(t, suites.TestSuites, 1)
	cases := suites.TestSuites[0].TestCases
	require.Len(t, cases, 3)
	assert.Nil(t, cases[0].Failure)
	assert.Equal(t, "each[1] > fetch", cases[1].Name)
	require.NotNil(t, cases[1].Failure)
	assert.Contains(t, cases[1].Failure.Content, "shape")
	require.NotNil(t, cases[2].Error)
	assert.Contains(t, suites.TestSuites[0].SystemErr, "ETag")
}

func TestTAPFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := NewTAPFormatter(TAPWithWriter(&buf))
	f.FormatResult(sampleRun())
	require.NoError(t, f.Flush(time.Second))

	out := buf.String()
	assert.Contains(t, out, "TAP version 13\n1..3\n")
	assert.Contains(t, out, "ok 1 - create\n")
	assert.Contains(t, out, "not ok 2 - each[1] > fetch\n")
	assert.Contains(t, out, "    - \"shape: eq body.ok true (rendered false)\"\n")
	assert.Contains(t, out, "not ok 3 - grab\n")
	assert.Contains(t, out, "severity: error")
	assert.Contains(t, out, "Bail out! step \"grab\"")
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain text", escapeYAML("plain text"))
	assert.Equal(t, `"a: \"b\""`, escapeYAML(`a: "b"`))
	assert.Equal(t, `"x\ny"`, escapeYAML("x\ny"))
}

func TestMultiFormatter(t *testing.T) {
	var console, tap bytes.Buffer
	m := NewMultiFormatter(
		NewConsoleFormatter(WithWriter(&console), WithNoColor(true)),
		NewTAPFormatter(TAPWithWriter(&tap)),
	)
	m.FormatResult(sampleRun())

	lat := metrics.NewMetrics()
	lat.Record("create", 5*time.Millisecond, true)
	m.FormatLatency(lat.Summary())
	require.NoError(t, m.Flush(time.Second))

	assert.Contains(t, console.String(), "Running: users.yaml")
	assert.Contains(t, console.String(), "Latency: p50")
	assert.Contains(t, tap.String(), "1..3")
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".xml", Extension("junit"))
	assert.Equal(t, ".json", Extension("json"))
	assert.Equal(t, ".tap", Extension("tap"))
	assert.Equal(t, ".txt", Extension("console"))
}
