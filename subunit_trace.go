package testr

import (
	"errors"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/op-testr/flags"
	"github.com/ethereum-optimism/op-testr/metrics"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

// TraceConfig configures the trace command, which renders a result stream
// read from In.
type TraceConfig struct {
	Options trace.Options
	Color   ui.ColorMode

	OutputConfig

	In     io.Reader
	Stdout io.Writer
	Log    log.Logger
}

// NewTraceConfig creates a TraceConfig from the flags of the trace command.
func NewTraceConfig(ctx *cli.Context, log log.Logger) (*TraceConfig, error) {
	color, err := ui.ParseColorMode(ctx.String(flags.Color.Name))
	if err != nil {
		return nil, types.NewConfigurationError(err, "invalid --%s", flags.Color.Name)
	}
	if n := ctx.Int(flags.SlowestCount.Name); n < 0 {
		return nil, types.NewConfigurationError(nil, "slowest count must not be negative")
	}

	opts := trace.DefaultOptions()
	opts.FailureDebug = !ctx.Bool(flags.NoFailureDebug.Name)
	opts.PrintFailures = ctx.Bool(flags.Fails.Name)
	opts.FailOnly = ctx.Bool(flags.FailOnly.Name)
	opts.Abbreviate = ctx.Bool(flags.Abbreviate.Name)
	opts.Summary = !ctx.Bool(flags.NoSummary.Name)
	opts.ShowInProgress = ctx.Bool(flags.ShowInProgress.Name)
	opts.ShowOutput = ctx.Bool(flags.ShowOutput.Name)
	opts.SlowestCount = ctx.Int(flags.SlowestCount.Name)

	return &TraceConfig{
		Options:      opts,
		Color:        color,
		OutputConfig: outputConfigFromCLI(ctx),
		In:           os.Stdin,
		Stdout:       os.Stdout,
		Log:          log,
	}, nil
}

// RunTrace reads a result stream from cfg.In and writes the live trace and
// summary to cfg.Stdout. The returned summary covers every event decoded
// before a malformed record.
func RunTrace(cfg *TraceConfig) (*trace.RunSummary, error) {
	runID := uuid.New().String()
	recorder := metrics.NewRecorder(cfg.Log)
	outputs, err := openOutputs(cfg.OutputConfig, runID, recorder, cfg.Log)
	if err != nil {
		return nil, NewRuntimeError(err)
	}

	agg := trace.New(ui.Detect(cfg.Stdout, cfg.Color), cfg.Options, outputs.Sinks()...)
	src := outputs.Tee(cfg.In)
	summary, consumeErr := agg.Run(stream.NewDecoder(src))
	if _, err := io.Copy(io.Discard, src); err != nil && consumeErr == nil {
		consumeErr = err
	}
	if consumeErr != nil {
		cfg.Log.Error("Failed to read result stream", "error", consumeErr)
		recorder.RecordErrorDetails("trace", consumeErr)
	}

	result := classify(summary, consumeErr, nil)
	if err := outputs.Close(summary); err != nil {
		result = errors.Join(result, NewRuntimeError(err))
	}
	if err := writeMetrics(cfg.OutputConfig, recorder); err != nil {
		result = errors.Join(result, NewRuntimeError(err))
	}
	return summary, result
}
