package runner

import (
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultWaitInterval = time.Second
)

// waitFor polls a URL through the transport until it answers with the
// expected status or the timeout passes.
func (ru *run) waitFor(cfg *parser.WaitForConfig, scope *env.Scope) error {
	if cfg == nil {
		return nil
	}

	url, err := ru.resolver.Render(cfg.URL, env.NewContext(scope))
	if err != nil {
		return fmt.Errorf("waitFor url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	expected := cfg.Status
	if expected == 0 {
		expected = 200
	}

	logging.Info("Runner", "waiting for %s to return %d (timeout %s)", url, expected, timeout)

	deadline := time.Now().Add(timeout)
	var lastErr error
	var lastStatus int

	for {
		resp, err := ru.transport.Do(ru.ctx, http.NewRequest("GET", url))
		if err != nil {
			lastErr = err
		} else {
			lastStatus = resp.StatusCode
			if resp.StatusCode == expected {
				logging.Debug("Runner", "%s is ready", url)
				return nil
			}
		}

		if !time.Now().Add(interval).Before(deadline) {
			break
		}
		if err := sleep(ru.ctx, interval); err != nil {
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("service %s not ready after %s: %w", url, timeout, lastErr)
	}
	return fmt.Errorf("service %s not ready after %s: got status %d, expected %d", url, timeout, lastStatus, expected)
}
