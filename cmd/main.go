package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	testr "github.com/ethereum-optimism/op-testr"
	"github.com/ethereum-optimism/op-testr/flags"
	"github.com/ethereum-optimism/op-testr/reporting"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Error("Application failed", "message", err)
		shutdown()
		os.Exit(testr.ExitCode(err))
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-testr"
	app.Usage = "Test runner wrapper for stestr and go test"
	app.Description = "op-testr selects tests, runs them through a scheduler and renders the result stream"
	app.Flags = cliapp.ProtectFlags(append(append([]cli.Flag{}, flags.Flags...), flags.LogFlags...))
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:   "trace",
			Usage:  "Render a result stream read from stdin as a live trace",
			Flags:  cliapp.ProtectFlags(flags.TraceFlags),
			Action: traceAction,
		},
		{
			Name:      "html",
			Usage:     "Render a result stream as an HTML report",
			ArgsUsage: "INPUT [OUTPUT]",
			Flags:     cliapp.ProtectFlags(flags.HTMLFlags),
			Action:    htmlAction,
		},
		{
			Name:      "generate",
			Usage:     "Write a single test result as a subunit v2 stream to stdout",
			ArgsUsage: "START_EPOCH ELAPSED_SECONDS [STATUS] [TEST_ID]",
			Action:    generateAction,
		},
	}
	// main maps the returned error onto the exit code.
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func newLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	// stdout carries the trace or the subunit stream
	logger := oplog.NewLogger(os.Stderr, logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()
	return logger
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger := newLogger(ctx)

	cfg, err := testr.NewConfig(ctx, logger)
	if err != nil {
		return nil, err
	}
	cfg.Log.Debug("Config", "config", cfg)

	orchestrator, err := testr.New(cfg, closeApp)
	if err != nil {
		return nil, err
	}
	return orchestrator, nil
}

func traceAction(ctx *cli.Context) error {
	logger := newLogger(ctx)
	cfg, err := testr.NewTraceConfig(ctx, logger)
	if err != nil {
		return err
	}
	_, err = testr.RunTrace(cfg)
	return err
}

func htmlAction(ctx *cli.Context) error {
	newLogger(ctx)
	args := ctx.Args()
	if args.Len() < 1 || args.Len() > 2 {
		return types.NewConfigurationError(nil, "usage: %s html INPUT [OUTPUT]", ctx.App.Name)
	}
	output := args.Get(1)
	if output == "" {
		output = reporting.HTMLResultsFilename
	}
	return testr.RenderHTML(args.Get(0), output, ctx.String(flags.HTMLTitle.Name))
}

func generateAction(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 2 || args.Len() > 4 {
		return types.NewConfigurationError(nil, "usage: %s generate START_EPOCH ELAPSED_SECONDS [STATUS] [TEST_ID]", ctx.App.Name)
	}
	start, err := strconv.ParseFloat(args.Get(0), 64)
	if err != nil {
		return types.NewConfigurationError(err, "invalid start epoch %q", args.Get(0))
	}
	elapsed, err := strconv.ParseFloat(args.Get(1), 64)
	if err != nil {
		return types.NewConfigurationError(err, "invalid elapsed seconds %q", args.Get(1))
	}

	status := testr.DefaultGenerateStatus
	if args.Len() > 2 {
		if status, err = types.ParseTestStatus(args.Get(2)); err != nil {
			return types.NewConfigurationError(err, "invalid status %q", args.Get(2))
		}
	}
	id := testr.DefaultGenerateTestID
	if args.Len() > 3 {
		id = types.TestID(args.Get(3))
	}

	return testr.Generate(ctx.App.Writer, testr.EpochTime(start), time.Duration(elapsed*float64(time.Second)), status, id)
}
