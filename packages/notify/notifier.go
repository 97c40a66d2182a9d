// Package notify posts run summaries to chat webhooks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// NotifyOn specifies when to send notifications
type NotifyOn string

const (
	NotifyAlways  NotifyOn = "always"
	NotifyFailure NotifyOn = "failure"
	NotifySuccess NotifyOn = "success"
	// NotifyRecovery sends on failure and on the first passing run after one.
	NotifyRecovery NotifyOn = "recovery"
)

// ParseNotifyOn validates a policy name. Empty means failure.
func ParseNotifyOn(s string) (NotifyOn, error) {
	switch n := NotifyOn(s); n {
	case "":
		return NotifyFailure, nil
	case NotifyAlways, NotifyFailure, NotifySuccess, NotifyRecovery:
		return n, nil
	}
	return "", fmt.Errorf("unknown notify policy %q (use always, failure, success or recovery)", s)
}

// RunSummary is what a notifier reports about one pass over the scripts.
type RunSummary struct {
	Scripts     int           `json:"scripts"`
	Steps       int           `json:"steps"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
	Environment string        `json:"environment,omitempty"`
	Failures    []Failure     `json:"failures,omitempty"`
	IsRecovery  bool          `json:"is_recovery,omitempty"`
}

// Failure is one failed step, or a script that stopped early.
type Failure struct {
	Step   string   `json:"step"`
	File   string   `json:"file"`
	Errors []string `json:"errors,omitempty"`
}

// Success reports whether nothing failed.
func (s *RunSummary) Success() bool {
	return s.Failed == 0 && len(s.Failures) == 0
}

// Summarize folds run results into a summary.
func Summarize(environment string, duration time.Duration, runs ...*runner.RunResult) *RunSummary {
	s := &RunSummary{Scripts: len(runs), Duration: duration, Environment: environment}
	for _, run := range runs {
		s.Steps += len(run.Results)
		s.Passed += run.Passed
		s.Failed += run.Failed
		for _, res := range run.Results {
			if res.Passed() {
				continue
			}
			f := Failure{Step: res.Path(), File: run.File}
			if res.Err != nil {
				f.Errors = append(f.Errors, res.Err.Error())
			}
			if res.Validation != nil {
				for _, d := range res.Validation.Failed() {
					msg := d.Name
					if d.Error != "" {
						msg += ": " + d.Error
					}
					f.Errors = append(f.Errors, msg)
				}
			}
			s.Failures = append(s.Failures, f)
		}
		if run.Err != nil && !stepErr(run) {
			s.Failures = append(s.Failures, Failure{Step: run.Script, File: run.File, Errors: []string{run.Err.Error()}})
		}
	}
	return s
}

// stepErr reports whether the run's error is already attached to a step.
func stepErr(run *runner.RunResult) bool {
	var verr *runner.ValidationError
	if errors.As(run.Err, &verr) {
		return true
	}
	for _, res := range run.Results {
		if res.Err != nil && errors.Is(run.Err, res.Err) {
			return true
		}
	}
	return false
}

// Notifier is the interface for notification services
type Notifier interface {
	Notify(ctx context.Context, summary *RunSummary) error
	Name() string
}

// Manager applies a NotifyOn policy across repeated runs.
type Manager struct {
	notifiers []Notifier
	notifyOn  NotifyOn
	lastState bool // true if last run was successful
}

func NewManager(notifyOn NotifyOn, notifiers ...Notifier) *Manager {
	return &Manager{
		notifiers: notifiers,
		notifyOn:  notifyOn,
		lastState: true,
	}
}

func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Len is the number of configured notifiers.
func (m *Manager) Len() int {
	return len(m.notifiers)
}

// Notify sends summary to every notifier if the policy allows it. All
// notifiers are tried; their errors are joined.
func (m *Manager) Notify(ctx context.Context, summary *RunSummary) error {
	shouldNotify := false
	currentSuccess := summary.Success()

	switch m.notifyOn {
	case NotifyAlways:
		shouldNotify = true
	case NotifyFailure:
		shouldNotify = !currentSuccess
	case NotifySuccess:
		shouldNotify = currentSuccess
	case NotifyRecovery:
		if !m.lastState && currentSuccess {
			shouldNotify = true
			summary.IsRecovery = true
		}
		if !currentSuccess {
			shouldNotify = true
		}
	}

	m.lastState = currentSuccess

	if !shouldNotify {
		logging.Debug("Notify", "policy %s: skipping notification", m.notifyOn)
		return nil
	}

	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		logging.Debug("Notify", "sent %s notification", n.Name())
	}
	return errors.Join(errs...)
}

func headline(summary *RunSummary) string {
	switch {
	case !summary.Success():
		return fmt.Sprintf("%d step(s) failed", max(summary.Failed, len(summary.Failures)))
	case summary.IsRecovery:
		return "Scripts recovered!"
	}
	return "All steps passed!"
}

// postJSON sends payload to a webhook and accepts 200 or 202.
func postJSON(ctx context.Context, client *http.Client, webhookURL string, payload []byte) error {
	req := http.NewRequest("POST", webhookURL)
	req.SetHeader("Content-Type", "application/json")
	req.SetBody(payload)

	resp, err := client.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != 200 && resp.StatusCode != 202 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, resp.BodyString())
	}
	return nil
}
