package trace

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	ts := t0.Add(d)
	return &ts
}

func ev(id string, status types.TestStatus, ts *time.Time, tags ...string) *stream.Event {
	return &stream.Event{TestID: types.TestID(id), Status: status, Timestamp: ts, Tags: tags}
}

type sliceDecoder struct {
	events []*stream.Event
	err    error
}

func (d *sliceDecoder) Next() (*stream.Event, error) {
	if len(d.events) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, io.EOF
	}
	next := d.events[0]
	d.events = d.events[1:]
	return next, nil
}

type recordingSink struct {
	ids []types.TestID
	err error
}

func (s *recordingSink) Consume(r *types.TestResult) error {
	s.ids = append(s.ids, r.ID)
	return s.err
}

func quietOptions() Options {
	return Options{Pretty: true, FailureDebug: true}
}

func run(t *testing.T, opts Options, events ...*stream.Event) (*RunSummary, string) {
	t.Helper()
	var buf bytes.Buffer
	agg := New(ui.NewNullWriter(&buf), opts)
	summary, err := agg.Run(&sliceDecoder{events: events})
	require.NoError(t, err)
	return summary, buf.String()
}

func TestEndToEndOneFailure(t *testing.T) {
	summary, out := run(t, DefaultOptions(),
		ev("pkg.A.test_a", types.TestStatusInProgress, at(0)),
		ev("pkg.B.test_b", types.TestStatusInProgress, at(0)),
		ev("pkg.C.test_c", types.TestStatusInProgress, at(0)),
		ev("pkg.A.test_a", types.TestStatusSuccess, at(1*time.Second)),
		ev("pkg.C.test_c", types.TestStatusSuccess, at(2*time.Second)),
		ev("pkg.B.test_b", types.TestStatusFail, at(3*time.Second)),
	)

	assert.Equal(t, 2, summary.Count(types.TestStatusSuccess))
	assert.Equal(t, 1, summary.Count(types.TestStatusFail))
	assert.Equal(t, 1, summary.ExitCode())
	assert.Equal(t, 3*time.Second, summary.Elapsed)
	assert.Equal(t, 6*time.Second, summary.TotalDuration)

	var slowest []types.TestID
	for _, r := range summary.Slowest(10) {
		slowest = append(slowest, r.ID)
	}
	assert.Equal(t, []types.TestID{"pkg.B.test_b", "pkg.C.test_c", "pkg.A.test_a"}, slowest)

	assert.Contains(t, out, "{0} pkg.B.test_b [3.000000s] ... FAILED\n")
	assert.Contains(t, out, "Slowest Tests:")
	assert.Contains(t, out, " - Passed: 2\n")
	assert.Contains(t, out, " - Failed: 1\n")
	assert.True(t, bytes.HasSuffix([]byte(out), []byte("\nFAIL\n")))
}

func TestAllSuccessExitsZero(t *testing.T) {
	summary, out := run(t, DefaultOptions(),
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusSuccess, at(time.Second)),
		ev("b", types.TestStatusInProgress, at(0)),
		ev("b", types.TestStatusSkip, at(time.Second)),
	)
	assert.Equal(t, 0, summary.ExitCode())
	assert.True(t, bytes.HasSuffix([]byte(out), []byte("\nPASS\n")))
}

func TestRerunsMatchMostRecentOpen(t *testing.T) {
	summary, _ := run(t, quietOptions(),
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusInProgress, at(1*time.Second)),
		ev("a", types.TestStatusSuccess, at(2*time.Second)),
		ev("a", types.TestStatusFail, at(5*time.Second)),
	)

	require.Len(t, summary.Results, 2)
	first, second := summary.Results[0], summary.Results[1]

	assert.Equal(t, 2, first.Seq)
	assert.Equal(t, types.TestStatusSuccess, first.Status)
	assert.Equal(t, "1.000000s", first.DurationString())

	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, types.TestStatusFail, second.Status)
	assert.Equal(t, "5.000000s", second.DurationString())
	assert.Empty(t, summary.Dangling)
}

func TestDanglingTests(t *testing.T) {
	summary, out := run(t, DefaultOptions(),
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusSuccess, at(time.Second)),
		ev("b", types.TestStatusInProgress, at(0), "worker-1"),
		ev("c", types.TestStatusInProgress, at(0)),
	)

	require.Len(t, summary.Dangling, 2)
	assert.Equal(t, 1, summary.Total())
	assert.Equal(t, 1, summary.ExitCode())

	warnings := summary.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "b was running but did not report a result", warnings[0].Error())
	assert.Contains(t, out, " - {1} b was running but did not report a result\n")
	assert.Contains(t, out, " - {0} c was running but did not report a result\n")
	// dangling tests are not counted as passed or failed
	assert.Equal(t, 0, summary.Failed())
}

func TestStatusCountsMatchClosedResults(t *testing.T) {
	summary, _ := run(t, quietOptions(),
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusSuccess, at(1)),
		ev("b", types.TestStatusFail, at(1)),
		ev("c", types.TestStatusInProgress, at(0)),
		ev("c", types.TestStatusXFail, at(1)),
		ev("d", types.TestStatusUXSuccess, at(1)),
		ev("e", types.TestStatusInProgress, nil),
		ev("e", types.TestStatusError, nil),
		ev("f", types.TestStatusExists, nil),
	)

	sum := 0
	for _, n := range summary.Counts {
		sum += n
	}
	assert.Equal(t, summary.Total(), sum)
	assert.Equal(t, 5, sum)
	assert.Equal(t, 3, summary.Failed())
}

func TestMissingTimestamps(t *testing.T) {
	summary, out := run(t, quietOptions(),
		ev("a", types.TestStatusSuccess, at(time.Second)),
		ev("b", types.TestStatusInProgress, at(0)),
		ev("b", types.TestStatusSuccess, nil),
	)

	require.Len(t, summary.Results, 2)
	assert.Nil(t, summary.Results[0].Start)
	assert.Equal(t, "", summary.Results[0].DurationString())
	assert.Equal(t, "", summary.Results[1].DurationString())
	assert.Contains(t, out, "{0} a ... ok\n")
	assert.Contains(t, out, "{0} b ... ok\n")
	assert.Empty(t, summary.Slowest(5))
}

func TestStartWithoutTimestampUsesClock(t *testing.T) {
	var buf bytes.Buffer
	agg := New(ui.NewNullWriter(&buf), quietOptions())
	agg.now = func() time.Time { return t0 }

	require.NoError(t, agg.Consume(ev("a", types.TestStatusInProgress, nil)))
	require.NoError(t, agg.Consume(ev("a", types.TestStatusSuccess, at(2*time.Second))))
	summary := agg.Finish()
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "2.000000s", summary.Results[0].DurationString())
}

func TestEmptyAndSkipOnlyRunsFail(t *testing.T) {
	summary, out := run(t, DefaultOptions())
	assert.Equal(t, 1, summary.ExitCode())
	assert.Contains(t, out, "The test run didn't actually run any tests")

	summary, out = run(t, DefaultOptions(),
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusSkip, at(0)),
	)
	assert.Equal(t, 1, summary.ExitCode())
	assert.Contains(t, out, "No tests were successful during the run")
}

func TestStreamErrorKeepsPartialResults(t *testing.T) {
	var buf bytes.Buffer
	agg := New(ui.NewNullWriter(&buf), DefaultOptions())
	boom := &stream.FormatError{Format: stream.FormatSubunitV2, Err: errors.New("crc mismatch")}
	summary, err := agg.Run(&sliceDecoder{
		events: []*stream.Event{
			ev("a", types.TestStatusInProgress, at(0)),
			ev("a", types.TestStatusSuccess, at(time.Second)),
			ev("b", types.TestStatusInProgress, at(0)),
		},
		err: boom,
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, summary.Total())
	assert.Len(t, summary.Dangling, 1)
	assert.Equal(t, 1, summary.ExitCode())
	assert.Contains(t, buf.String(), "Totals")
}

func TestResultSinksReceiveClosedResults(t *testing.T) {
	sink := &recordingSink{}
	agg := New(ui.NewNullWriter(io.Discard), quietOptions(), sink)
	for _, e := range []*stream.Event{
		ev("a", types.TestStatusInProgress, at(0)),
		ev("b", types.TestStatusInProgress, at(0)),
		ev("b", types.TestStatusSuccess, at(1)),
		ev("a", types.TestStatusFail, at(2)),
		ev("c", types.TestStatusInProgress, at(2)),
	} {
		require.NoError(t, agg.Consume(e))
	}
	assert.Equal(t, []types.TestID{"b", "a"}, sink.ids)

	sink.err = errors.New("disk full")
	err := agg.Consume(ev("c", types.TestStatusSuccess, at(3)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestDetailsAttachToOpenRecord(t *testing.T) {
	var d1, d2 types.Details
	d1 = d1.Append("stdout", "text/plain", []byte("early\n"))
	d2 = d2.Append("stdout", "text/plain", []byte("during\n"))

	summary, out := run(t, quietOptions(),
		&stream.Event{TestID: "a", Details: d1},
		ev("a", types.TestStatusInProgress, at(0)),
		&stream.Event{TestID: "a", Details: d2},
		ev("a", types.TestStatusFail, at(1)),
	)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, "early\nduring\n", summary.Results[0].Details.Text("stdout"))
	assert.Contains(t, out, "Captured stdout:\n~~~~~~~~~~~~~~~~\n    early\n    during\n")
}

func TestOutputPassthrough(t *testing.T) {
	var d types.Details
	d = d.Append(stream.DetailStdout, "text/plain", []byte("noise from the runner\n"))
	_, out := run(t, quietOptions(), &stream.Event{Details: d})
	assert.Equal(t, "noise from the runner\n", out[:len("noise from the runner\n")])
}

func TestAbbreviatedOutput(t *testing.T) {
	_, out := run(t, Options{Pretty: true, Abbreviate: true},
		ev("a", types.TestStatusSuccess, at(0)),
		ev("b", types.TestStatusFail, at(0)),
		ev("c", types.TestStatusSkip, at(0)),
		ev("d", types.TestStatusError, at(0)),
	)
	assert.Equal(t, ".FSE\n\nFAIL\n", out)
}

func TestFailOnlyAndInProgress(t *testing.T) {
	_, out := run(t, Options{Pretty: true, FailOnly: true, ShowInProgress: true},
		ev("a", types.TestStatusInProgress, at(0)),
		ev("a", types.TestStatusSuccess, at(1*time.Second)),
		ev("b", types.TestStatusInProgress, at(0)),
		ev("b", types.TestStatusFail, at(1*time.Second)),
	)
	assert.NotContains(t, out, "inprogress")
	assert.NotContains(t, out, "{0} a")
	assert.Contains(t, out, "{0} b [1.000000s] ... FAILED\n")

	_, out = run(t, Options{Pretty: true, ShowInProgress: true},
		ev("a", types.TestStatusInProgress, at(0), "worker-3"),
	)
	assert.Contains(t, out, "{3} a ... inprogress\n")
}

func TestPrintFailuresAfterRun(t *testing.T) {
	var d types.Details
	d = d.Append("traceback", "text/plain", []byte("boom"))
	_, out := run(t, Options{Pretty: true, PrintFailures: true},
		&stream.Event{TestID: "x.y", Status: types.TestStatusFail, Timestamp: at(0), Details: d},
	)
	assert.Contains(t, out, "{0} x.y ... FAILED\n\n")
	assert.Contains(t, out, "Failed 1 tests - output below:")
	assert.Contains(t, out, "\nx.y\n---\n\nCaptured traceback:\n")
}

func TestWorkerBalance(t *testing.T) {
	summary, out := run(t, Options{Summary: true},
		ev("a", types.TestStatusInProgress, at(0), "worker-0"),
		ev("a", types.TestStatusSuccess, at(time.Second), "worker-0"),
		ev("b", types.TestStatusInProgress, at(0), "worker-2"),
		ev("b", types.TestStatusSuccess, at(2*time.Second), "worker-2"),
		&stream.Event{TestID: "c", Status: types.TestStatusSuccess, Timestamp: at(time.Second), RouteCode: "remote"},
	)

	var workers []string
	for _, w := range summary.Workers {
		workers = append(workers, w.Worker)
	}
	if diff := cmp.Diff([]string{"0", "2", "remote"}, workers); diff != "" {
		t.Errorf("workers mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, out, " - WARNING: missing Worker 1!\n")
	assert.Contains(t, out, " - Worker 2 (1 tests) => 2.000000s\n")
	assert.Contains(t, out, " - Worker remote (1 tests) => \n")
}

func TestTraceGolden(t *testing.T) {
	var tb types.Details
	tb = tb.Append("traceback", "text/plain", []byte("Traceback:\n  boom\n"))
	var reason types.Details
	reason = reason.Append("reason", "text/plain", []byte("not supported"))

	_, out := run(t, Options{Pretty: true, FailureDebug: true, Summary: true},
		ev("pkg.A.test_a", types.TestStatusInProgress, at(0), "worker-0"),
		ev("pkg.B.test_b", types.TestStatusInProgress, at(0), "worker-1"),
		ev("pkg.A.test_a", types.TestStatusSuccess, at(1*time.Second), "worker-0"),
		ev("pkg.C.test_c[smoke]", types.TestStatusInProgress, at(1*time.Second), "worker-0"),
		&stream.Event{TestID: "pkg.B.test_b", Status: types.TestStatusFail, Timestamp: at(3 * time.Second), Details: tb},
		&stream.Event{TestID: "pkg.D.test_d", Status: types.TestStatusSkip, Timestamp: at(3 * time.Second), Tags: []string{"worker-1"}, Details: reason},
		ev("pkg.C.test_c[smoke]", types.TestStatusSuccess, at(3*time.Second)),
	)

	g := goldie.New(t)
	g.Assert(t, "trace_plain", []byte(out))
}
