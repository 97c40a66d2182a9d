package cmd

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/core/config"
	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"id=42", "name=alice", "tags=[a, b]", "on=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, 42.0, vars["id"])
	assert.Equal(t, "alice", vars["name"])
	assert.Equal(t, []any{"a", "b"}, vars["tags"])
	assert.Equal(t, true, vars["on"])
	assert.Equal(t, "", vars["empty"])

	_, err = parseVars([]string{"novalue"})
	assert.ErrorContains(t, err, "expected name=value")
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func TestParseThresholds(t *testing.T) {
	th, err := parseThresholds("250ms", "")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, th.P95)
	assert.Zero(t, th.P99)

	_, err = parseThresholds("", "fast")
	assert.ErrorContains(t, err, "--max-p99")
}

func TestIsScriptFile(t *testing.T) {
	assert.True(t, isScriptFile("users.yaml"))
	assert.True(t, isScriptFile("dir/users.YML"))
	assert.True(t, isScriptFile("users.json"))
	assert.False(t, isScriptFile("hitscript.yaml"))
	assert.False(t, isScriptFile("notes.txt"))
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"a.yaml", "nested/b.yml", "hitscript.yaml", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("name: x\n"), 0o644))
	}

	files, err := collectFiles([]string{dir})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "nested", "b.yml")}, files)

	files, err = collectFiles([]string{filepath.Join(dir, "README.md")})
	require.NoError(t, err)
	assert.Len(t, files, 1, "named files are taken as given")

	_, err = collectFiles([]string{filepath.Join(dir, "missing")})
	assert.ErrorContains(t, err, "cannot access")
}

func TestRunOutcome_ExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, runOutcome{passed: 3}.exitCode())
	assert.Equal(t, ExitTestFailure, runOutcome{failed: 1}.exitCode())
	assert.Equal(t, ExitTestFailure, runOutcome{thresholdsFailed: true}.exitCode())
	assert.Equal(t, ExitNetworkError, runOutcome{failed: 1, networkErrors: 1}.exitCode())
	assert.Equal(t, ExitParseError, runOutcome{loadErrors: 1, networkErrors: 1}.exitCode())
}

func TestBuildNotifier(t *testing.T) {
	m, err := buildNotifier(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = buildNotifier(&config.NotifyConfig{On: "always"})
	require.NoError(t, err)
	assert.Nil(t, m, "a policy without webhooks sends nothing")

	m, err = buildNotifier(&config.NotifyConfig{SlackWebhook: "https://hooks.example.com/x", TeamsWebhook: "https://teams.example.com/y"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 2, m.Len())

	_, err = buildNotifier(&config.NotifyConfig{On: "never", SlackWebhook: "https://hooks.example.com/x"})
	assert.Error(t, err)
}

func TestNetworkFailure(t *testing.T) {
	refused := &url.Error{Op: "Get", URL: "http://localhost:1", Err: errors.New("connection refused")}

	assert.True(t, networkFailure(&runner.RunResult{Err: refused}))
	assert.True(t, networkFailure(&runner.RunResult{Results: []*runner.StepResult{{Err: refused}}}))
	assert.False(t, networkFailure(&runner.RunResult{Err: errors.New("validation failed")}))

	cancelled := &url.Error{Op: "Get", URL: "http://localhost:1", Err: context.Canceled}
	assert.False(t, networkFailure(&runner.RunResult{Err: cancelled}))
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateScriptFile(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "child.yaml", `
name: child
steps:
  - get: http://localhost/child
`)
	main := writeScript(t, dir, "main.yaml", `
name: main
steps:
  - include: ./child.yaml
  - include: ./missing.yaml
  - get: http://localhost/x
    handlers:
      - name: nope
`)

	problems := validateScriptFile(main, handlers.NewRegistry())
	require.Len(t, problems, 2)
	assert.ErrorContains(t, problems[0], `handler "nope" is not registered`)
	assert.ErrorContains(t, problems[1], "missing.yaml")

	assert.Empty(t, validateScriptFile(filepath.Join(dir, "child.yaml"), handlers.NewRegistry()))
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "loop.yaml", `
name: loop
steps:
  - name: each
    loop:
      over: [a, b]
      var: item
      steps:
        - name: fetch
          get: "http://localhost/{{item}}"
`)

	var buf bytes.Buffer
	require.NoError(t, dryRun(&buf, []string{path}))
	out := buf.String()
	assert.Contains(t, out, "Would run: "+path+" (loop)")
	assert.Contains(t, out, "  - each (var item)")
	assert.Contains(t, out, "    - fetch")

	bad := writeScript(t, dir, "bad.yaml", "steps: [")
	err := dryRun(&buf, []string{bad})
	var ee *exitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ExitParseError, ee.code)
}
