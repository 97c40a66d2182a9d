// Package logging is a small subsystem-tagged wrapper over log/slog.
//
// Call InitForCLI once at startup; the package-level Trace, Debug, Info, Warn
// and Error functions then write text records carrying a subsystem attribute.
package logging
