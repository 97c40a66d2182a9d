package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/assertions"
	"github.com/mohae/deepcopy"
)

// StackFrame is one enclosing loop or include of a step.
type StackFrame struct {
	Kind  string `json:"kind"`
	Name  string `json:"name"`
	Line  int    `json:"line,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// StepResult records one executed request step. Vars and Sessions are deep
// copies taken when the result was recorded.
type StepResult struct {
	Name       string                 `json:"name"`
	Method     string                 `json:"method,omitempty"`
	URL        string                 `json:"url,omitempty"`
	Status     int                    `json:"status,omitempty"`
	Headers    map[string]string      `json:"headers,omitempty"`
	Body       any                    `json:"body,omitempty"`
	Validation *assertions.Validation `json:"validation"`
	Vars       map[string]any         `json:"vars"`
	Sessions   map[string]string      `json:"sessions"`
	Stack      []StackFrame           `json:"stack"`
	Duration   time.Duration          `json:"-"`
	DurationMs int64                  `json:"duration"`
	Err        error                  `json:"-"`
}

func (r *StepResult) Passed() bool {
	return r.Err == nil && r.Validation != nil && r.Validation.Result
}

// Path joins the enclosing frames and the step name for display.
func (r *StepResult) Path() string {
	parts := make([]string, 0, len(r.Stack)+1)
	for _, f := range r.Stack {
		if f.Index != nil {
			parts = append(parts, fmt.Sprintf("%s[%d]", f.Name, *f.Index))
			continue
		}
		parts = append(parts, f.Name)
	}
	parts = append(parts, r.Name)
	return strings.Join(parts, " > ")
}

func snapshotVars(vars map[string]any) map[string]any {
	return deepcopy.Copy(vars).(map[string]any)
}

func snapshotSessions(sessions map[string]string) map[string]string {
	return deepcopy.Copy(sessions).(map[string]string)
}

type RunResult struct {
	Script   string
	File     string
	Results  []*StepResult
	Duration time.Duration
	Passed   int
	Failed   int
	// Err is why the run stopped early, if it did.
	Err error
}

func (r *RunResult) tally() {
	r.Passed, r.Failed = 0, 0
	for _, res := range r.Results {
		if res.Passed() {
			r.Passed++
		} else {
			r.Failed++
		}
	}
}

// ValidationError stops a run at a step whose verdict failed. It carries
// every detail of that verdict.
type ValidationError struct {
	Step    string
	Details []*assertions.Detail
}

func (e *ValidationError) Error() string {
	var failed []string
	for _, d := range e.Details {
		if d.Result {
			continue
		}
		if d.Error != "" {
			failed = append(failed, fmt.Sprintf("%s: %s", d.Name, d.Error))
		} else {
			failed = append(failed, fmt.Sprintf("%s: %q failed", d.Name, d.Check))
		}
	}
	return fmt.Sprintf("step %q: validation failed: %s", e.Step, strings.Join(failed, "; "))
}
