package cmd

// Exit codes for the hitscript CLI
const (
	// ExitSuccess indicates every step passed
	ExitSuccess = 0

	// ExitTestFailure indicates a failed verdict or latency threshold
	ExitTestFailure = 1

	// ExitParseError indicates a script that could not be loaded
	ExitParseError = 2

	// ExitConfigError indicates a configuration or environment error
	ExitConfigError = 3

	// ExitNetworkError indicates a request that never got a response
	ExitNetworkError = 4

	// ExitUsageError indicates invalid CLI usage
	ExitUsageError = 64
)
