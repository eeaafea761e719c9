package testr

import (
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/op-testr/flags"
	"github.com/ethereum-optimism/op-testr/logging"
	"github.com/ethereum-optimism/op-testr/metrics"
	"github.com/ethereum-optimism/op-testr/reporting"
	"github.com/ethereum-optimism/op-testr/trace"
	"github.com/ethereum-optimism/op-testr/types"
)

// OutputConfig names the files a run writes besides the trace.
type OutputConfig struct {
	SubunitOutput string // raw copy of the input stream
	HTMLOutput    string
	HTMLTitle     string
	ResultsLog    string
	MetricsFile   string
}

func outputConfigFromCLI(ctx *cli.Context) OutputConfig {
	return OutputConfig{
		SubunitOutput: ctx.String(flags.SubunitOutput.Name),
		HTMLOutput:    ctx.String(flags.HTMLOutput.Name),
		HTMLTitle:     ctx.String(flags.HTMLTitle.Name),
		ResultsLog:    ctx.String(flags.ResultsLog.Name),
		MetricsFile:   ctx.String(flags.MetricsFile.Name),
	}
}

// runOutputs holds the sinks of one run.
type runOutputs struct {
	cfg      OutputConfig
	runID    string
	log      log.Logger
	raw      *logging.RawStreamSink
	html     *reporting.HTMLRenderer
	results  *logging.ResultLogSink
	recorder *metrics.Recorder
}

func openOutputs(cfg OutputConfig, runID string, recorder *metrics.Recorder, logger log.Logger) (*runOutputs, error) {
	o := &runOutputs{cfg: cfg, runID: runID, recorder: recorder, log: logger}

	var err error
	if cfg.SubunitOutput != "" {
		if o.raw, err = logging.NewRawStreamSink(cfg.SubunitOutput); err != nil {
			return nil, err
		}
	}
	if cfg.ResultsLog != "" {
		if o.results, err = logging.NewResultLogSink(cfg.ResultsLog); err != nil {
			o.closeFiles()
			return nil, err
		}
	}
	if cfg.HTMLOutput != "" {
		if o.html, err = reporting.NewHTMLRenderer(reporting.HTMLOptions{Title: cfg.HTMLTitle, RunID: runID}); err != nil {
			o.closeFiles()
			return nil, err
		}
	}
	return o, nil
}

// Sinks returns the result sinks to register with the aggregator.
func (o *runOutputs) Sinks() []trace.ResultSink {
	var sinks []trace.ResultSink
	if o.html != nil {
		sinks = append(sinks, o.html)
	}
	if o.results != nil {
		sinks = append(sinks, o.results)
	}
	if o.recorder != nil {
		sinks = append(sinks, o.recorder)
	}
	return sinks
}

// Tee copies r to the raw stream file, if one was requested.
func (o *runOutputs) Tee(r io.Reader) io.Reader {
	if o.raw == nil {
		return r
	}
	return o.raw.Tee(r)
}

func (o *runOutputs) closeFiles() error {
	var errs []error
	if o.raw != nil {
		errs = append(errs, o.raw.Close())
	}
	if o.results != nil {
		errs = append(errs, o.results.Close())
	}
	return errors.Join(errs...)
}

// Close flushes the files and writes the reports of a finished run. summary
// may be nil when the run never produced one.
func (o *runOutputs) Close(summary *trace.RunSummary) error {
	errs := []error{o.closeFiles()}

	if summary != nil && o.html != nil {
		o.html.SetPassed(summary.Successful())
		if err := o.html.WriteFile(o.cfg.HTMLOutput); err != nil {
			errs = append(errs, err)
		} else {
			o.log.Info("Wrote HTML report", "path", o.cfg.HTMLOutput)
		}
	}
	if o.recorder != nil {
		if summary != nil {
			o.recorder.RecordRun(metrics.RunOutcome{
				RunID:    o.runID,
				Passed:   summary.Successful(),
				Total:    summary.Total(),
				Failed:   summary.Failed(),
				Skipped:  summary.Count(types.TestStatusSkip),
				Dangling: len(summary.Dangling),
				Elapsed:  summary.Elapsed,
			})
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to write run outputs: %w", err)
	}
	return nil
}

// writeMetrics writes the recorded metrics to the configured textfile. It is
// called once the outcome of the invocation, errors included, is recorded.
func writeMetrics(cfg OutputConfig, recorder *metrics.Recorder) error {
	if cfg.MetricsFile == "" || recorder == nil {
		return nil
	}
	return recorder.WriteToTextfile(cfg.MetricsFile)
}
