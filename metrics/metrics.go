package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/op-testr/types"
)

const (
	MetricsNamespace = "testr"
)

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z ]+`)

// Recorder collects the metrics of test runs into its own registry. It is a
// result sink, so every closed test result is counted as it arrives.
type Recorder struct {
	registry *prometheus.Registry
	log      log.Logger

	errorsTotal  *prometheus.CounterVec
	testsTotal   *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	runResult    *prometheus.GaugeVec
	runTests     *prometheus.GaugeVec
	runDuration  *prometheus.GaugeVec
}

// NewRecorder creates a Recorder backed by a fresh registry.
func NewRecorder(logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.Root()
	}
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		log:      logger,
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "errors_total",
			Help:      "Count of errors",
		}, []string{
			"error",
		}),
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "tests_total",
			Help:      "Count of closed test results",
		}, []string{
			"status",
		}),
		testDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "test_duration_seconds",
			Help:      "Duration of individual tests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{
			"status",
		}),
		runResult: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_result",
			Help:      "Result of a test run",
		}, []string{
			"run_id",
			"result",
		}),
		runTests: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_tests",
			Help:      "Number of tests of a run by outcome",
		}, []string{
			"run_id",
			"outcome",
		}),
		runDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a test run",
		}, []string{
			"run_id",
		}),
	}
}

// Registry exposes the registry the metrics are collected into.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Consume counts a closed test result.
func (r *Recorder) Consume(result *types.TestResult) error {
	status := string(result.Status)
	r.testsTotal.WithLabelValues(status).Inc()
	if d, ok := result.Duration(); ok {
		r.testDuration.WithLabelValues(status).Observe(d.Seconds())
	}
	return nil
}

// RunOutcome summarises a finished run.
type RunOutcome struct {
	RunID    string
	Passed   bool
	Total    int
	Failed   int
	Skipped  int
	Dangling int
	Elapsed  time.Duration
}

// RecordRun sets the per-run gauges.
func (r *Recorder) RecordRun(o RunOutcome) {
	result := "fail"
	if o.Passed {
		result = "pass"
	}
	r.log.Debug("metric set", "m", "run_result", "run_id", o.RunID, "result", result)

	r.runResult.WithLabelValues(o.RunID, result).Set(1)
	r.runTests.WithLabelValues(o.RunID, "total").Set(float64(o.Total))
	r.runTests.WithLabelValues(o.RunID, "failed").Set(float64(o.Failed))
	r.runTests.WithLabelValues(o.RunID, "skipped").Set(float64(o.Skipped))
	r.runTests.WithLabelValues(o.RunID, "dangling").Set(float64(o.Dangling))
	r.runDuration.WithLabelValues(o.RunID).Set(o.Elapsed.Seconds())
}

func (r *Recorder) RecordError(error string) {
	r.log.Debug("metric inc", "m", "errors_total", "error", error)
	r.errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func (r *Recorder) RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	r.RecordError(fmt.Sprintf("%s.%s", label, errToLabel(err)))
}

// WriteToTextfile writes all collected metrics in the text exposition format,
// for node_exporter's textfile collector.
func (r *Recorder) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}
