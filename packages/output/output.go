package output

import (
	"fmt"
	"io"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
)

type Formatter interface {
	FormatHeader(version string)
	FormatResult(result *runner.RunResult)
	FormatError(err error)
}

// Flushable formatters write their output once every run is in.
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

// LatencyFormatter formatters can show the latency summary of a run.
type LatencyFormatter interface {
	FormatLatency(summary *metrics.Summary)
}

type Options struct {
	Writer  io.Writer
	Verbose bool
	NoColor bool
}

// New returns the formatter registered under name.
func New(name string, opts Options) (Formatter, error) {
	switch name {
	case "", "console":
		return NewConsoleFormatter(WithWriter(opts.Writer), WithVerbose(opts.Verbose), WithNoColor(opts.NoColor)), nil
	case "json":
		return NewJSONFormatter(JSONWithWriter(opts.Writer)), nil
	case "junit":
		return NewJUnitFormatter(JUnitWithWriter(opts.Writer)), nil
	case "tap":
		return NewTAPFormatter(TAPWithWriter(opts.Writer)), nil
	}
	return nil, fmt.Errorf("unknown output format %q", name)
}

// failures lists what made a step fail, one line per failed detail.
func failures(r *runner.StepResult) []string {
	var out []string
	if r.Validation == nil {
		if r.Err != nil {
			out = append(out, r.Err.Error())
		}
		return out
	}
	for _, d := range r.Validation.Failed() {
		switch {
		case d.Error != "":
			out = append(out, fmt.Sprintf("%s: %s", d.Name, d.Error))
		case d.Rendered != "":
			out = append(out, fmt.Sprintf("%s: %s (rendered %s)", d.Name, d.Check, d.Rendered))
		default:
			out = append(out, fmt.Sprintf("%s: %s", d.Name, d.Check))
		}
	}
	return out
}

func resultFile(result *runner.RunResult) string {
	if result.File != "" {
		return result.File
	}
	return result.Script
}
