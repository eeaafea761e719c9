// Package exitcodes defines the standard exit codes used by op-testr.
package exitcodes

// Exit code constants used by op-testr
//
// * Success (0): every test passed and at least one ran
// * TestFailure (1): a test failed, errored, succeeded unexpectedly or never
// reported a result, or no test passed
// * RuntimeErr (2): configuration errors, bad patterns, malformed streams and
// other failures of op-testr itself
//
// A scheduler that exits non-zero while its stream is otherwise green keeps
// its own exit code.
const (
	Success     = 0 // All tests pass
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime or configuration errors
)
