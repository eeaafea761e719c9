package testr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ethereum-optimism/op-testr/metrics"
	"github.com/ethereum-optimism/op-testr/runner"
	"github.com/ethereum-optimism/op-testr/selection"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

var _ cliapp.Lifecycle = (*Orchestrator)(nil)

var tracer = otel.Tracer("op-testr")

// Orchestrator selects tests, runs them through a scheduler and reports the
// results of the run.
type Orchestrator struct {
	config    *Config
	scheduler runner.Scheduler
	recorder  *metrics.Recorder

	// summary of the last finished run
	summary *trace.RunSummary

	stopped atomic.Bool
	// closeApp is called once the run is over so the lifecycle command exits.
	closeApp context.CancelCauseFunc
}

// New creates an Orchestrator for config using the scheduler it names.
func New(config *Config, closeApp context.CancelCauseFunc) (*Orchestrator, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	sched, err := NewScheduler(config)
	if err != nil {
		return nil, err
	}
	return NewWithScheduler(config, sched, closeApp), nil
}

// NewWithScheduler creates an Orchestrator driving sched.
func NewWithScheduler(config *Config, sched runner.Scheduler, closeApp context.CancelCauseFunc) *Orchestrator {
	if config.Stdout == nil {
		config.Stdout = io.Discard
	}
	return &Orchestrator{
		config:    config,
		scheduler: sched,
		recorder:  metrics.NewRecorder(config.Log),
		closeApp:  closeApp,
	}
}

// NewScheduler creates the scheduler named by config.
func NewScheduler(config *Config) (runner.Scheduler, error) {
	switch config.Scheduler {
	case SchedulerStestr:
		return runner.NewStestrScheduler(runner.StestrConfig{
			Binary:   config.StestrBinary,
			WorkDir:  config.WorkDir,
			TestPath: config.TestPath,
			Log:      config.Log,
		})
	case SchedulerGo:
		packages := config.Packages
		if config.Path != "" {
			packages = []string{config.Path}
		}
		return runner.NewGoScheduler(runner.GoConfig{
			Binary:   config.GoBinary,
			WorkDir:  config.WorkDir,
			Packages: packages,
			Log:      config.Log,
		})
	}
	return nil, types.NewConfigurationError(nil, "unknown scheduler %q", config.Scheduler)
}

// Start runs the tests once and asks the application to close. Start
// implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.config.Log.Info("Starting op-testr", "scheduler", o.scheduler.Name(), "workdir", o.config.WorkDir)

	err := o.Run(ctx)
	if err != nil {
		o.config.Log.Debug("Run finished with error", "error", err, "exitCode", ExitCode(err))
		return err
	}
	if o.closeApp != nil {
		go o.closeApp(nil)
	}
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stop(_ context.Context) error {
	if o.stopped.Swap(true) {
		return nil
	}
	o.config.Log.Debug("Stopping op-testr")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (o *Orchestrator) Stopped() bool {
	return o.stopped.Load()
}

// Summary returns the summary of the last finished run, if any.
func (o *Orchestrator) Summary() *trace.RunSummary {
	return o.summary
}

// Run executes one invocation: it lists the selected tests in list mode, and
// otherwise runs them (repeatedly for until-failure) and reports the results.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID := uuid.New().String()
	ctx, span := tracer.Start(ctx, "op-testr run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.scheduler", o.scheduler.Name()),
		attribute.Bool("run.list_only", o.config.ListOnly),
		attribute.Bool("run.until_failure", o.config.UntilFailure),
	)

	var err error
	switch {
	case o.config.ListOnly:
		err = o.listTests(ctx)
	case o.config.UntilFailure && o.scheduler.Name() == runner.GoSchedulerName:
		err = o.runUntilFailure(ctx, runID)
	default:
		err = o.runOnce(ctx, runID)
	}

	if err != nil {
		span.RecordError(err)
		o.recorder.RecordErrorDetails("run", err)
	}
	if werr := writeMetrics(o.config.OutputConfig, o.recorder); werr != nil {
		err = errors.Join(err, NewRuntimeError(werr))
	}
	span.SetAttributes(attribute.Int("run.exit_code", ExitCode(err)))
	return err
}

func (o *Orchestrator) request(sel *selection.Selection) runner.Request {
	return runner.Request{
		Selection:    sel,
		Serial:       o.config.Serial,
		Concurrency:  o.config.Concurrency,
		UntilFailure: o.config.UntilFailure && o.scheduler.Name() != runner.GoSchedulerName,
		NoDiscover:   o.config.NoDiscoverID(),
		Extra:        o.config.Extra,
	}
}

func (o *Orchestrator) selectTests(ctx context.Context) (*selection.Selection, error) {
	if o.config.NoDiscover != "" {
		return nil, nil
	}
	_, span := tracer.Start(ctx, "select tests")
	defer span.End()

	sel, err := selection.Build(ctx, o.scheduler, o.config.SelectionOptions())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("selection.regex", sel.Regex),
		attribute.Bool("selection.materialized", sel.Materialized),
		attribute.Int("selection.tests", len(sel.Tests)),
	)
	o.config.Log.Debug("Selected tests", "regex", sel.Regex, "materialized", sel.Materialized, "count", len(sel.Tests))
	return sel, nil
}

// listTests prints the ids the run would execute, one per line.
func (o *Orchestrator) listTests(ctx context.Context) error {
	sel, err := o.selectTests(ctx)
	if err != nil {
		return err
	}
	ids := sel.Tests
	if !sel.Materialized {
		candidates, err := o.scheduler.ListTests(ctx, sel.Regex)
		if err != nil {
			return NewRuntimeError(fmt.Errorf("failed to list tests: %w", err))
		}
		if ids, err = selection.Filter(candidates, sel.Regex, nil); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if _, err := fmt.Fprintln(o.config.Stdout, id); err != nil {
			return NewRuntimeError(err)
		}
	}
	return nil
}

// runUntilFailure repeats the run until an iteration fails or ctx is done.
func (o *Orchestrator) runUntilFailure(ctx context.Context, runID string) error {
	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			return NewRuntimeError(err)
		}
		iterID := fmt.Sprintf("%s-%d", runID, i)
		if err := o.runOnce(ctx, iterID); err != nil {
			o.config.Log.Info("Run failed", "iteration", i)
			return err
		}
		if o.config.Subunit {
			o.config.Log.Info("Ran tests without failure", "iteration", i, "total", o.summary.Total())
			continue
		}
		if _, err := fmt.Fprintf(o.config.Stdout, "Ran %d tests without failure\n", o.summary.Total()); err != nil {
			return NewRuntimeError(err)
		}
	}
}

// runOnce runs the selected tests once and classifies the outcome.
func (o *Orchestrator) runOnce(ctx context.Context, runID string) error {
	ctx, span := tracer.Start(ctx, "run tests")
	defer span.End()

	sel, err := o.selectTests(ctx)
	if err != nil {
		return err
	}

	outputs, err := openOutputs(o.config.OutputConfig, runID, o.recorder, o.config.Log)
	if err != nil {
		return NewRuntimeError(err)
	}
	agg := trace.New(o.traceWriter(), o.traceOptions(), outputs.Sinks()...)

	var summary *trace.RunSummary
	var consumeErr error
	execErr := func() error {
		cmd, cleanup, err := o.scheduler.Command(ctx, o.request(sel))
		if errors.Is(err, runner.ErrNoTestsSelected) {
			o.config.Log.Warn("No tests selected")
			summary, consumeErr = agg.Run(stream.NewDecoder(outputs.Tee(strings.NewReader(""))))
			return nil
		}
		if err != nil {
			return err
		}
		defer cleanup()

		o.config.Log.Info("Running tests", "run_id", runID, "command", cmd.String())
		return runner.Execute(ctx, cmd, func(r io.Reader) error {
			src := outputs.Tee(r)
			var dec stream.Decoder = stream.NewDecoder(src)
			if o.config.Subunit {
				dec = &encodingDecoder{Decoder: dec, enc: stream.NewEncoder(o.config.Stdout)}
			}
			summary, consumeErr = agg.Run(dec)
			// the raw copy keeps whatever follows a malformed record
			_, err := io.Copy(io.Discard, src)
			return err
		})
	}()

	o.summary = summary
	outErr := outputs.Close(summary)
	if summary != nil {
		span.SetAttributes(
			attribute.Int("run.total", summary.Total()),
			attribute.Int("run.failed", summary.Failed()),
			attribute.Int("run.dangling", len(summary.Dangling)),
		)
		o.config.Log.Info("Test run completed", "run_id", runID,
			"total", summary.Total(), "failed", summary.Failed(), "dangling", len(summary.Dangling))
	}

	result := classify(summary, consumeErr, execErr)
	if outErr != nil {
		return errors.Join(result, NewRuntimeError(outErr))
	}
	return result
}

// classify turns the outcome of a run into the error returned to the caller.
func classify(summary *trace.RunSummary, consumeErr, execErr error) error {
	if consumeErr != nil {
		if stream.IsFormatError(consumeErr) {
			return consumeErr
		}
		return NewRuntimeError(fmt.Errorf("failed to process results: %w", consumeErr))
	}
	if types.IsConfigurationError(execErr) || types.IsPatternError(execErr) {
		return execErr
	}
	if summary != nil && summary.ExitCode() != 0 {
		msg := fmt.Sprintf("%d of %d tests failed", summary.Failed(), summary.Total())
		if summary.Failed() == 0 {
			msg = "no test passed"
		}
		warnings := make([]error, 0, len(summary.Dangling))
		for _, w := range summary.Warnings() {
			warnings = append(warnings, w)
		}
		return errors.Join(append([]error{NewTestFailureError(msg)}, warnings...)...)
	}
	if runner.IsSchedulerError(execErr) {
		return execErr
	}
	if execErr != nil {
		return NewRuntimeError(execErr)
	}
	return nil
}

func (o *Orchestrator) traceWriter() ui.Writer {
	if o.config.Subunit {
		return ui.NewNullWriter(io.Discard)
	}
	return ui.Detect(o.config.Stdout, o.config.Color)
}

func (o *Orchestrator) traceOptions() trace.Options {
	if o.config.Subunit {
		return trace.Options{}
	}
	return trace.Options{
		Pretty:         o.config.Pretty,
		ShowInProgress: o.config.ShowInProgress,
		ShowOutput:     o.config.ShowOutput,
		FailOnly:       o.config.FailOnly,
		Abbreviate:     o.config.Abbreviate,
		PrintFailures:  true,
		Summary:        true,
		SlowestCount:   o.config.SlowestCount,
	}
}

// encodingDecoder re-encodes every decoded event as subunit v2.
type encodingDecoder struct {
	stream.Decoder
	enc *stream.Encoder
}

func (d *encodingDecoder) Next() (*stream.Event, error) {
	ev, err := d.Decoder.Next()
	if err != nil {
		return nil, err
	}
	if err := d.enc.Encode(ev); err != nil {
		return nil, fmt.Errorf("failed to write subunit stream: %w", err)
	}
	return ev, nil
}
