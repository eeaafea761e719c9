package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Execute starts cmd and feeds its stdout to consume while it runs. When
// consume returns early the remaining output is drained so the process can
// finish. Cancelling ctx kills a process created with exec.CommandContext. A
// non-zero exit becomes a *SchedulerError carrying the exit code;
// it is joined with the consumer's error when both fail.
func Execute(ctx context.Context, cmd *exec.Cmd, consume func(io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	name := filepath.Base(cmd.Path)
	span := trace.SpanFromContext(ctx)
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	span.AddEvent("scheduler started", trace.WithAttributes(
		attribute.String("scheduler.binary", name),
		attribute.Int("scheduler.pid", cmd.Process.Pid),
	))

	var waitErr, consumeErr error
	var g errgroup.Group
	g.Go(func() error {
		waitErr = cmd.Wait()
		return pw.Close()
	})
	g.Go(func() error {
		consumeErr = consume(pr)
		_, err := io.Copy(io.Discard, pr)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to read %s output: %w", name, err)
	}

	span.AddEvent("scheduler exited", trace.WithAttributes(
		attribute.Int("scheduler.exit_code", cmd.ProcessState.ExitCode()),
	))
	if waitErr != nil && ctx.Err() != nil {
		return errors.Join(consumeErr, fmt.Errorf("%s interrupted: %w", name, ctx.Err()))
	}
	return errors.Join(consumeErr, schedulerError(name, waitErr))
}

func schedulerError(name string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = 2
		}
		return &SchedulerError{Scheduler: name, ExitCode: code, Err: err}
	}
	return fmt.Errorf("%s failed: %w", name, err)
}
