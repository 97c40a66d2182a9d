// Package config loads hitscript project configuration.
//
// A config file (.hitscript.config.json, .hitscriptrc or hitscript.yaml) sets
// transport defaults, named environments, the continuation flags and the
// reporters. Command-line flags are merged on top with Merge.
package config
