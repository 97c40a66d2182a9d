// Package cmd implements the hitscript CLI commands using Cobra.
//
// Available commands:
//   - run: Execute scripts against live servers
//   - validate: Load scripts and everything they reference without running them
//   - list: Show the step tree of each script
//   - history: Show runs recorded to a results database
//   - init: Create a config file and an example script
//   - version: Show version information
//
// Most run flags also read a HITSCRIPT_* environment variable, and every
// setting can come from a hitscript.yaml config file.
package cmd
