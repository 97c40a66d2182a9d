package runner

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/env"
	"github.com/abdul-hamid-achik/hitscript/packages/logging"
)

// runHooks runs init hook commands through sh in the script directory.
// Before hooks stop at the first failure; after hooks all run and the first
// failure is returned. A leading "-" ignores a command's failure.
func (ru *run) runHooks(phase string, commands []string, baseDir string, scope *env.Scope) error {
	var firstErr error
	for _, raw := range commands {
		err := ru.runHook(raw, baseDir, scope)
		if err == nil {
			continue
		}
		err = fmt.Errorf("%s hook: %w", phase, err)
		if phase == "before" {
			return err
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ru *run) runHook(raw, baseDir string, scope *env.Scope) error {
	cmdStr, err := ru.resolver.Render(raw, env.NewContext(scope))
	if err != nil {
		return err
	}
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return nil
	}

	ignoreError := strings.HasPrefix(cmdStr, "-")
	if ignoreError {
		cmdStr = strings.TrimSpace(strings.TrimPrefix(cmdStr, "-"))
	}

	parts := strings.Fields(cmdStr)
	if len(parts) > 0 {
		executable := parts[0]
		if strings.HasPrefix(executable, "./") || strings.HasPrefix(executable, "../") {
			parts[0] = filepath.Join(baseDir, executable)
			cmdStr = strings.Join(parts, " ")
		}
	}

	cmd := exec.CommandContext(ru.ctx, "sh", "-c", cmdStr)
	cmd.Dir = baseDir
	cmd.Env = os.Environ()
	for k, v := range scope.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		logging.Debug("Hooks", "%s: %s", cmdStr, strings.TrimSpace(string(output)))
	}
	if err != nil {
		if ignoreError {
			logging.Warn("Hooks", "ignoring failure of %q: %v", cmdStr, err)
			return nil
		}
		return fmt.Errorf("command %q failed: %v\nOutput: %s", raw, err, output)
	}
	return nil
}
