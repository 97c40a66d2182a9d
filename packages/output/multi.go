package output

import (
	"errors"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/metrics"
)

// MultiFormatter fans every call out to several formatters, in order.
type MultiFormatter struct {
	formatters []Formatter
}

func NewMultiFormatter(formatters ...Formatter) *MultiFormatter {
	return &MultiFormatter{formatters: formatters}
}

func (m *MultiFormatter) FormatHeader(version string) {
	for _, f := range m.formatters {
		f.FormatHeader(version)
	}
}

func (m *MultiFormatter) FormatResult(result *runner.RunResult) {
	for _, f := range m.formatters {
		f.FormatResult(result)
	}
}

func (m *MultiFormatter) FormatError(err error) {
	for _, f := range m.formatters {
		f.FormatError(err)
	}
}

func (m *MultiFormatter) FormatLatency(summary *metrics.Summary) {
	for _, f := range m.formatters {
		if lf, ok := f.(LatencyFormatter); ok {
			lf.FormatLatency(summary)
		}
	}
}

// Flush flushes every formatter that buffers and joins their errors.
func (m *MultiFormatter) Flush(totalDuration time.Duration) error {
	var errs []error
	for _, f := range m.formatters {
		if fl, ok := f.(Flushable); ok {
			if err := fl.Flush(totalDuration); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Extension is the file extension a format's report is written with.
func Extension(name string) string {
	switch name {
	case "json":
		return ".json"
	case "junit":
		return ".xml"
	case "tap":
		return ".tap"
	}
	return ".txt"
}
