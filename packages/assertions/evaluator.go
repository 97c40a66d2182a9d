package assertions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
)

// Detail is the outcome of one check.
type Detail struct {
	Name     string `json:"name"`
	Check    string `json:"check"`
	Rendered string `json:"rendered,omitempty"`
	Error    string `json:"error,omitempty"`
	Result   bool   `json:"result"`
}

// Validation is the verdict for one step: it passes only if every detail does.
type Validation struct {
	Result  bool      `json:"result"`
	Details []*Detail `json:"details"`
}

func NewValidation() *Validation {
	return &Validation{Result: true, Details: []*Detail{}}
}

func (v *Validation) Add(details ...*Detail) {
	for _, d := range details {
		v.Details = append(v.Details, d)
		if !d.Result {
			v.Result = false
		}
	}
}

// Failed returns the details that did not pass.
func (v *Validation) Failed() []*Detail {
	var failed []*Detail
	for _, d := range v.Details {
		if !d.Result {
			failed = append(failed, d)
		}
	}
	return failed
}

type Evaluator struct {
	resolver *env.Resolver
}

// NewEvaluator wraps a resolver whose registry has the operators registered.
func NewEvaluator(resolver *env.Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// EvaluateCheck renders a check and passes it when it renders to "true". A
// check without placeholders is wrapped in {{ }} first. Rendering errors
// become a failed detail carrying the message.
func (e *Evaluator) EvaluateCheck(name, check string, ctx *env.Context) *Detail {
	d := &Detail{Name: name, Check: check}
	tmpl := check
	if !strings.Contains(check, "{{") {
		tmpl = "{{" + check + "}}"
	}
	rendered, err := e.resolver.Render(tmpl, ctx)
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.Rendered = rendered
	d.Result = strings.TrimSpace(rendered) == "true"
	return d
}

// EvaluateGroups runs every check of every group independently.
func (e *Evaluator) EvaluateGroups(groups []*parser.ValidationGroup, ctx *env.Context) []*Detail {
	var details []*Detail
	for _, g := range groups {
		for _, check := range g.Checks {
			details = append(details, e.EvaluateCheck(g.Name, check, ctx))
		}
	}
	return details
}

// DefaultStatusClass applies when a response block names neither status nor
// statusClass.
const DefaultStatusClass = "2xx"

// CheckStatus compares a status code with the expected exact code, or else
// the expected class.
func CheckStatus(status int, spec *parser.ResponseSpec) *Detail {
	d := &Detail{Name: "status", Rendered: strconv.Itoa(status)}
	if spec != nil && spec.Status != 0 {
		d.Check = fmt.Sprintf("status == %d", spec.Status)
		d.Result = status == spec.Status
		if !d.Result {
			d.Error = fmt.Sprintf("expected status %d, got %d", spec.Status, status)
		}
		return d
	}

	class := DefaultStatusClass
	if spec != nil && spec.StatusClass != "" {
		class = strings.ToLower(spec.StatusClass)
	}
	d.Check = "statusClass == " + class
	d.Result = StatusClass(status) == class
	if !d.Result {
		d.Error = fmt.Sprintf("expected status class %s, got %d", class, status)
	}
	return d
}

// StatusClass returns "2xx" for 204 and so on.
func StatusClass(status int) string {
	return fmt.Sprintf("%dxx", status/100)
}
