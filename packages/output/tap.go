package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
)

// TAPFormatter formats test results in TAP (Test Anything Protocol) format
type TAPFormatter struct {
	writer    io.Writer
	testCount int
	results   []tapResult
	bailOut   string
}

type tapResult struct {
	number   int
	name     string
	passed   bool
	error    string
	failures []string
}

type TAPOption func(*TAPFormatter)

func NewTAPFormatter(opts ...TAPOption) *TAPFormatter {
	f := &TAPFormatter{
		writer:  os.Stdout,
		results: make([]tapResult, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.writer == nil {
		f.writer = os.Stdout
	}
	return f
}

func TAPWithWriter(w io.Writer) TAPOption {
	return func(f *TAPFormatter) {
		f.writer = w
	}
}

func (f *TAPFormatter) FormatResult(result *runner.RunResult) {
	for _, r := range result.Results {
		f.testCount++
		tr := tapResult{
			number: f.testCount,
			name:   r.Path(),
			passed: r.Passed(),
		}
		if r.Err != nil {
			tr.error = r.Err.Error()
		} else if !tr.passed {
			tr.failures = failures(r)
		}
		f.results = append(f.results, tr)
	}
	if result.Err != nil && f.bailOut == "" {
		f.bailOut = result.Err.Error()
	}
}

func (f *TAPFormatter) FormatError(err error) {
	if f.bailOut == "" {
		f.bailOut = err.Error()
	}
}

func (f *TAPFormatter) FormatHeader(version string) {
	// Header is written in Flush
}

func (f *TAPFormatter) Flush(totalDuration time.Duration) error {
	fmt.Fprintf(f.writer, "TAP version 13\n")
	fmt.Fprintf(f.writer, "1..%d\n", f.testCount)

	for _, r := range f.results {
		if r.error != "" {
			fmt.Fprintf(f.writer, "not ok %d - %s\n", r.number, r.name)
			fmt.Fprintf(f.writer, "  ---\n")
			fmt.Fprintf(f.writer, "  message: %s\n", escapeYAML(r.error))
			fmt.Fprintf(f.writer, "  severity: error\n")
			fmt.Fprintf(f.writer, "  ...\n")
			continue
		}

		if r.passed {
			fmt.Fprintf(f.writer, "ok %d - %s\n", r.number, r.name)
			continue
		}
		fmt.Fprintf(f.writer, "not ok %d - %s\n", r.number, r.name)
		if len(r.failures) > 0 {
			fmt.Fprintf(f.writer, "  ---\n")
			fmt.Fprintf(f.writer, "  failures:\n")
			for _, a := range r.failures {
				fmt.Fprintf(f.writer, "    - %s\n", escapeYAML(a))
			}
			fmt.Fprintf(f.writer, "  ...\n")
		}
	}

	if f.bailOut != "" {
		fmt.Fprintf(f.writer, "Bail out! %s\n", strings.ReplaceAll(f.bailOut, "\n", " "))
	}
	fmt.Fprintf(f.writer, "# time %dms\n", totalDuration.Milliseconds())
	return nil
}

// escapeYAML quotes s when it holds characters YAML would interpret.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":\n\"'[]{}#&*!|>%@`") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		return "\"" + s + "\""
	}
	return s
}
