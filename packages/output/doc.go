// Package output renders run results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: the step result records plus a summary
//   - JUnit: JUnit XML format for CI integration
//   - TAP: Test Anything Protocol format
//
// Formatters that accumulate results implement Flushable and write
// everything in Flush.
package output
