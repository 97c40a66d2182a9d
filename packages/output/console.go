package output

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
	"github.com/fatih/color"
)

// formatValue formats a value for display, truncating or summarizing large values
func formatValue(v any, maxLen int) string {
	switch val := v.(type) {
	case []any:
		return fmt.Sprintf("[array with %d items]", len(val))
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	case map[string]string:
		return fmt.Sprintf("{map with %d entries}", len(val))
	}
	str := fmt.Sprintf("%v", v)
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer: os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.writer == nil {
		f.writer = os.Stdout
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

func (f *ConsoleFormatter) FormatResult(result *runner.RunResult) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n\n", bold("Running: "+resultFile(result)))

	for _, r := range result.Results {
		if r.Err != nil {
			fmt.Fprintf(f.writer, "  %s %s %s\n", red("x"), r.Path(), red(fmt.Sprintf("(%v)", r.Err)))
			continue
		}

		symbol := green("✓")
		if !r.Passed() {
			symbol = red("✗")
		}
		fmt.Fprintf(f.writer, "  %s %s %s\n", symbol, r.Path(), cyan(fmt.Sprintf("(%dms)", r.DurationMs)))

		if f.verbose {
			fmt.Fprintf(f.writer, "    %s %s -> %d\n", r.Method, r.URL, r.Status)
		}

		if !r.Passed() {
			for _, line := range failures(r) {
				fmt.Fprintf(f.writer, "    %s %s\n", red("→"), line)
			}
		}

		if f.verbose && len(r.Vars) > 0 {
			fmt.Fprintf(f.writer, "    Vars:\n")
			names := make([]string, 0, len(r.Vars))
			for name := range r.Vars {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(f.writer, "      %s = %s\n", name, formatValue(r.Vars[name], 80))
			}
		}
	}

	if result.Err != nil {
		fmt.Fprintf(f.writer, "\n  %s %v\n", red("Stopped:"), result.Err)
	}

	fmt.Fprintf(f.writer, "\nSteps: ")
	if result.Passed > 0 {
		fmt.Fprintf(f.writer, "%s, ", green(fmt.Sprintf("%d passed", result.Passed)))
	}
	if result.Failed > 0 {
		fmt.Fprintf(f.writer, "%s, ", red(fmt.Sprintf("%d failed", result.Failed)))
	}
	fmt.Fprintf(f.writer, "%d total\n", len(result.Results))
	fmt.Fprintf(f.writer, "Time:  %dms\n\n", result.Duration.Milliseconds())
}

func (f *ConsoleFormatter) FormatLatency(s *metrics.Summary) {
	if s == nil || s.Requests == 0 {
		return
	}
	fmt.Fprintf(f.writer, "Latency: p50 %s, p95 %s, p99 %s, max %s (%d requests)\n\n",
		s.Latency.P50, s.Latency.P95, s.Latency.P99, s.Latency.Max, s.Requests)
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("hitscript"), version)
}
