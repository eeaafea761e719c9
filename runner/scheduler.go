package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"

	"github.com/ethereum-optimism/op-testr/selection"
)

// ErrNoTestsSelected is returned by Command when the selection is an empty
// list, so there is nothing to start.
var ErrNoTestsSelected = errors.New("no tests selected")

// Request describes one scheduler run.
type Request struct {
	Selection    *selection.Selection
	Serial       bool
	Concurrency  int
	UntilFailure bool
	// NoDiscover runs a single test id without test discovery.
	NoDiscover string
	// Extra arguments are passed to the scheduler unchanged.
	Extra []string
}

// Scheduler is an external test runner.
type Scheduler interface {
	selection.Lister

	Name() string
	// Command builds the process running req. The returned cleanup must be
	// called once the process has exited.
	Command(ctx context.Context, req Request) (*exec.Cmd, func(), error)
}

// CommandBuilder creates the command for a scheduler binary and a cleanup
// function for anything it allocated.
type CommandBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// DefaultCommandBuilder runs commands in dir with the current environment plus
// the trace context of ctx.
func DefaultCommandBuilder(dir string) CommandBuilder {
	return func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
		cmd := exec.CommandContext(ctx, name, arg...)
		cmd.Dir = dir
		cmd.Env = telemetry.InstrumentEnvironment(ctx, os.Environ())
		return cmd, func() {}
	}
}

// SchedulerError reports a scheduler process that exited unsuccessfully.
type SchedulerError struct {
	Scheduler string
	ExitCode  int
	Err       error
}

func (e *SchedulerError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Scheduler, e.ExitCode)
}

func (e *SchedulerError) Unwrap() error {
	return e.Err
}

// IsSchedulerError checks if the error is or wraps a SchedulerError
func IsSchedulerError(err error) bool {
	var schedErr *SchedulerError
	return err != nil && errors.As(err, &schedErr)
}
