// Package exitcodes defines the standard exit codes used by crucible.
package exitcodes

// Exit code constants used by the harness:
//
// * Success (0): the build completed and every selected test passed
// * TestFailure (1): one or more tests still failed after all retries
// * RuntimeErr (2): build failures, coverage tool failures, configuration
//   errors or other operational problems
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
