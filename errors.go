package testr

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/op-testr/exitcodes"
	"github.com/ethereum-optimism/op-testr/runner"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
)

// RuntimeError represents an operational error that should lead to exit code 2
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError
func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError represents a run whose tests did not all pass (exit code 1)
type TestFailureError struct {
	Message string
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: %s", e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string) *TestFailureError {
	return &TestFailureError{Message: message}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCode maps an error returned by a command to the process exit code.
// Errors of op-testr itself win over test failures, which win over the exit
// code of the scheduler.
func ExitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}

	var warning trace.DanglingTestWarning
	var schedErr *runner.SchedulerError
	switch {
	case types.IsConfigurationError(err),
		types.IsPatternError(err),
		stream.IsFormatError(err),
		IsRuntimeError(err):
		return exitcodes.RuntimeErr
	case IsTestFailureError(err), errors.As(err, &warning):
		return exitcodes.TestFailure
	case errors.As(err, &schedErr):
		return schedErr.ExitCode
	}
	return exitcodes.RuntimeErr
}
