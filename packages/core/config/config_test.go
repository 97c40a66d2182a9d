package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindAndLoadConfig_Defaults(t *testing.T) {
	cfg, err := FindAndLoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.True(t, cfg.GetFollowRedirects())
	assert.False(t, cfg.GetContinueOnFailure())
}

func TestLoadConfig_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".hitscript.config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"defaultEnvironment": "staging",
		"environments": {"staging": {"API_URL": "https://staging.example.com"}},
		"continueOnError": true,
		"rateLimit": 5,
		"reporters": ["console", "junit"]
	}`), 0o644))

	cfg, err := FindAndLoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.DefaultEnvironment)
	assert.Equal(t, "https://staging.example.com", cfg.Environments["staging"]["API_URL"])
	assert.True(t, cfg.GetContinueOnError())
	assert.Equal(t, 5.0, cfg.RateLimit)
	assert.Equal(t, 30000, cfg.Timeout, "unset fields keep their defaults")
	assert.Equal(t, []string{"console", "junit"}, cfg.Reporters)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hitscript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeout: 5000
validateSSL: false
headers:
  X-Team: qa
recordDB: results.db
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Timeout)
	assert.False(t, cfg.GetValidateSSL())
	assert.Equal(t, "qa", cfg.Headers["X-Team"])
	assert.Equal(t, "results.db", cfg.RecordDB)
}

func TestLoadConfig_RCFileAcceptsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".hitscriptrc")
	require.NoError(t, os.WriteFile(path, []byte("continueOnFailure: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.GetContinueOnFailure())
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		file    string
		content string
		message string
	}{
		{"bad reporter", "a.json", `{"reporters": ["html"]}`, `unknown reporter "html"`},
		{"negative timeout", "b.json", `{"timeout": -1}`, "timeout must not be negative"},
		{"unknown default env", "c.yaml", "defaultEnvironment: prod\nenvironments:\n  dev: {}\n", `defaultEnvironment "prod"`},
		{"malformed", "d.json", `{`, "d.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	base.Headers = map[string]string{"Accept": "application/json"}
	base.Environments = map[string]map[string]any{"dev": {"A": "1"}}

	merged := base.Merge(&Config{
		Timeout:         1000,
		ContinueOnError: BoolPtr(true),
		ValidateSSL:     BoolPtr(false),
		Headers:         map[string]string{"X-Run": "ci"},
		Environments:    map[string]map[string]any{"ci": {"A": "2"}},
	})

	assert.Equal(t, 1000, merged.Timeout)
	assert.Equal(t, 10, merged.MaxRedirects)
	assert.True(t, merged.GetContinueOnError())
	assert.False(t, merged.GetValidateSSL())
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Run": "ci"}, merged.Headers)
	assert.Len(t, merged.Environments, 2)
	assert.Len(t, base.Headers, 1, "merge does not modify the receiver")
	assert.Same(t, base, base.Merge(nil))
}

func TestMerge_Notify(t *testing.T) {
	base := &Config{Notify: &NotifyConfig{On: "always", SlackWebhook: "https://hooks.example.com/a"}}
	merged := base.Merge(&Config{Notify: &NotifyConfig{TeamsWebhook: "https://teams.example.com/b"}})

	require.NotNil(t, merged.Notify)
	assert.Equal(t, "always", merged.Notify.On)
	assert.Equal(t, "https://hooks.example.com/a", merged.Notify.SlackWebhook)
	assert.Equal(t, "https://teams.example.com/b", merged.Notify.TeamsWebhook)
	assert.Empty(t, base.Notify.TeamsWebhook)
}

func TestClientOptions(t *testing.T) {
	cfg := DefaultConfig()
	assert.Len(t, cfg.ClientOptions(), 4)

	cfg.Proxy = "http://proxy:8080"
	cfg.Headers = map[string]string{"A": "b"}
	cfg.RateLimit = 2
	assert.Len(t, cfg.ClientOptions(), 7)
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.RecordDB = "runs.db"

	for _, name := range []string{"out.json", "out.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.SaveConfig(path))
		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "runs.db", loaded.RecordDB)
		assert.Equal(t, cfg.Timeout, loaded.Timeout)
	}
}
