package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
)

// JSONOutput is the document written by Flush.
type JSONOutput struct {
	Summary  JSONSummary      `json:"summary"`
	Runs     []JSONRun        `json:"runs"`
	Latency  *metrics.Summary `json:"latency,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Duration float64          `json:"duration"`
	Time     string           `json:"time"`
}

type JSONSummary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// JSONRun is one script run. Results are the step records as the runner
// produced them.
type JSONRun struct {
	Script   string               `json:"script"`
	File     string               `json:"file,omitempty"`
	Passed   int                  `json:"passed"`
	Failed   int                  `json:"failed"`
	Duration float64              `json:"duration"`
	Error    string               `json:"error,omitempty"`
	Results  []*runner.StepResult `json:"results"`
}

type JSONFormatter struct {
	writer  io.Writer
	runs    []JSONRun
	errors  []string
	latency *metrics.Summary
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		runs:   make([]JSONRun, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.writer == nil {
		f.writer = os.Stdout
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(result *runner.RunResult) {
	run := JSONRun{
		Script:   result.Script,
		File:     result.File,
		Passed:   result.Passed,
		Failed:   result.Failed,
		Duration: float64(result.Duration.Milliseconds()),
		Results:  result.Results,
	}
	if run.Results == nil {
		run.Results = []*runner.StepResult{}
	}
	if result.Err != nil {
		run.Error = result.Err.Error()
	}
	f.runs = append(f.runs, run)
}

func (f *JSONFormatter) FormatLatency(s *metrics.Summary) {
	f.latency = s
}

// FormatError keeps errors that happened outside any run, such as a script
// that failed to load.
func (f *JSONFormatter) FormatError(err error) {
	f.errors = append(f.errors, err.Error())
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	var summary JSONSummary
	for _, r := range f.runs {
		summary.Passed += r.Passed
		summary.Failed += r.Failed
	}
	summary.Total = summary.Passed + summary.Failed

	output := JSONOutput{
		Summary:  summary,
		Runs:     f.runs,
		Latency:  f.latency,
		Errors:   f.errors,
		Duration: float64(totalDuration.Milliseconds()),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}
