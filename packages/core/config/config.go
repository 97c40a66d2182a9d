package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitscript/packages/http"
	"gopkg.in/yaml.v3"
)

// Config is the project configuration. Every field is optional; pointer
// bools distinguish "unset" from false so Merge can layer files and flags.
type Config struct {
	DefaultEnvironment string                    `json:"defaultEnvironment,omitempty" yaml:"defaultEnvironment,omitempty"`
	Environments       map[string]map[string]any `json:"environments,omitempty" yaml:"environments,omitempty"`
	EnvFiles           []string                  `json:"envFiles,omitempty" yaml:"envFiles,omitempty"`
	Timeout            int                       `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
	FollowRedirects    *bool                     `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
	MaxRedirects       int                       `json:"maxRedirects,omitempty" yaml:"maxRedirects,omitempty"`
	ValidateSSL        *bool                     `json:"validateSSL,omitempty" yaml:"validateSSL,omitempty"`
	Proxy              string                    `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Headers            map[string]string         `json:"headers,omitempty" yaml:"headers,omitempty"`
	ContinueOnFailure  *bool                     `json:"continueOnFailure,omitempty" yaml:"continueOnFailure,omitempty"`
	ContinueOnError    *bool                     `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	RateLimit          float64                   `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"` // requests per second
	RateBurst          int                       `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`
	RecordDB           string                    `json:"recordDB,omitempty" yaml:"recordDB,omitempty"`
	Reporters          []string                  `json:"reporters,omitempty" yaml:"reporters,omitempty"`
	OutputDir          string                    `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	Verbose            *bool                     `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	NoColor            *bool                     `json:"noColor,omitempty" yaml:"noColor,omitempty"`
	Notify             *NotifyConfig             `json:"notify,omitempty" yaml:"notify,omitempty"`
}

// NotifyConfig names the chat webhooks that receive run summaries.
type NotifyConfig struct {
	On           string `json:"on,omitempty" yaml:"on,omitempty"` // always, failure, success, recovery
	SlackWebhook string `json:"slackWebhook,omitempty" yaml:"slackWebhook,omitempty"`
	SlackChannel string `json:"slackChannel,omitempty" yaml:"slackChannel,omitempty"`
	TeamsWebhook string `json:"teamsWebhook,omitempty" yaml:"teamsWebhook,omitempty"`
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

func (c *Config) GetContinueOnFailure() bool {
	return getBool(c.ContinueOnFailure, false)
}

func (c *Config) GetContinueOnError() bool {
	return getBool(c.ContinueOnError, false)
}

func (c *Config) GetVerbose() bool {
	return getBool(c.Verbose, false)
}

func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// TimeoutDuration is Timeout as a duration.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// ClientOptions translates the transport settings into HTTP client options.
func (c *Config) ClientOptions() []http.ClientOption {
	opts := []http.ClientOption{
		http.WithFollowRedirects(c.GetFollowRedirects()),
		http.WithValidateSSL(c.GetValidateSSL()),
	}
	if c.Timeout > 0 {
		opts = append(opts, http.WithTimeout(c.TimeoutDuration()))
	}
	if c.MaxRedirects > 0 {
		opts = append(opts, http.WithMaxRedirects(c.MaxRedirects))
	}
	if c.Proxy != "" {
		opts = append(opts, http.WithProxy(c.Proxy))
	}
	if len(c.Headers) > 0 {
		opts = append(opts, http.WithDefaultHeaders(c.Headers))
	}
	if c.RateLimit > 0 {
		opts = append(opts, http.WithRateLimit(c.RateLimit, c.RateBurst))
	}
	return opts
}

// ConfigFilenames are searched in order by FindAndLoadConfig.
var ConfigFilenames = []string{
	".hitscript.config.json",
	"hitscript.config.json",
	".hitscriptrc",
	".hitscriptrc.json",
	"hitscript.yaml",
	"hitscript.yml",
}

// LoadConfig loads path, or searches the working directory when path is empty.
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig loads the first config file found in dir, or returns
// the defaults when there is none.
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}
	return DefaultConfig(), nil
}

func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		// rc files may be either
		if err = json.Unmarshal(data, config); err != nil {
			config = DefaultConfig()
			err = yaml.Unmarshal(data, config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate reports settings no run could use.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rateLimit must not be negative")
	}
	if c.DefaultEnvironment != "" && len(c.Environments) > 0 {
		if _, ok := c.Environments[c.DefaultEnvironment]; !ok {
			return fmt.Errorf("defaultEnvironment %q is not in environments", c.DefaultEnvironment)
		}
	}
	for _, r := range c.Reporters {
		if !IsReporter(r) {
			return fmt.Errorf("unknown reporter %q", r)
		}
	}
	return nil
}

// Merge returns c overlaid with other; set fields of other win.
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c

	if other.DefaultEnvironment != "" {
		result.DefaultEnvironment = other.DefaultEnvironment
	}
	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.RateLimit > 0 {
		result.RateLimit = other.RateLimit
	}
	if other.RateBurst > 0 {
		result.RateBurst = other.RateBurst
	}
	if other.RecordDB != "" {
		result.RecordDB = other.RecordDB
	}
	if other.OutputDir != "" {
		result.OutputDir = other.OutputDir
	}

	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.ContinueOnFailure != nil {
		result.ContinueOnFailure = other.ContinueOnFailure
	}
	if other.ContinueOnError != nil {
		result.ContinueOnError = other.ContinueOnError
	}
	if other.Verbose != nil {
		result.Verbose = other.Verbose
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}
	if other.Notify != nil {
		n := NotifyConfig{}
		if c.Notify != nil {
			n = *c.Notify
		}
		if other.Notify.On != "" {
			n.On = other.Notify.On
		}
		if other.Notify.SlackWebhook != "" {
			n.SlackWebhook = other.Notify.SlackWebhook
		}
		if other.Notify.SlackChannel != "" {
			n.SlackChannel = other.Notify.SlackChannel
		}
		if other.Notify.TeamsWebhook != "" {
			n.TeamsWebhook = other.Notify.TeamsWebhook
		}
		result.Notify = &n
	}

	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(c.Headers)+len(other.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	if len(other.Environments) > 0 {
		envs := make(map[string]map[string]any, len(c.Environments)+len(other.Environments))
		for k, v := range c.Environments {
			envs[k] = v
		}
		for k, v := range other.Environments {
			envs[k] = v
		}
		result.Environments = envs
	}

	if len(other.EnvFiles) > 0 {
		result.EnvFiles = other.EnvFiles
	}
	if len(other.Reporters) > 0 {
		result.Reporters = other.Reporters
	}

	return &result
}

// SaveConfig writes c as indented JSON, or YAML for .yaml/.yml paths.
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
