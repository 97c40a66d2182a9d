package env

import (
	"fmt"
	"os"
	"strings"
)

// Options controls how the run environment is assembled.
type Options struct {
	// Name selects an environment from Environments.
	Name         string
	Environments map[string]map[string]any
	// DotEnvFiles are read in order; later files win.
	DotEnvFiles []string
	// SystemPrefix limits which process variables are visible. Empty means all.
	SystemPrefix string
	Overrides    map[string]string
}

// LoadEnvironment builds the read-only environment for a run. Later layers
// override earlier ones: process environment, the named config environment,
// .env files, then explicit overrides.
func LoadEnvironment(opts Options) (map[string]string, error) {
	result := LoadSystemEnv(opts.SystemPrefix)

	if opts.Name != "" && opts.Environments != nil {
		vars, ok := opts.Environments[opts.Name]
		if !ok {
			return nil, fmt.Errorf("unknown environment %q", opts.Name)
		}
		for k, v := range vars {
			result[k] = Stringify(v)
		}
	}

	for _, path := range opts.DotEnvFiles {
		vars, err := LoadDotEnv(path)
		if err != nil {
			return nil, err
		}
		for k, v := range vars {
			result[k] = v
		}
	}

	for k, v := range opts.Overrides {
		result[k] = v
	}
	return result, nil
}

// LoadSystemEnv returns the process environment. With a prefix only
// matching variables are kept, with the prefix stripped.
func LoadSystemEnv(prefix string) map[string]string {
	result := make(map[string]string)
	for _, e := range os.Environ() {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" {
			continue
		}
		if prefix == "" {
			result[key] = value
		} else if len(key) > len(prefix) && strings.HasPrefix(key, prefix) {
			result[key[len(prefix):]] = value
		}
	}
	return result
}
