package trace

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

// ResultSink receives every result as soon as it is closed.
type ResultSink interface {
	Consume(result *types.TestResult) error
}

// Options controls what the Aggregator writes.
type Options struct {
	// Pretty enables the per-test trace lines.
	Pretty bool
	// ShowInProgress writes a line when a test starts.
	ShowInProgress bool
	// ShowOutput prints captured stdout and stderr of passing tests.
	ShowOutput bool
	// FailOnly restricts the trace to failing tests.
	FailOnly bool
	// Abbreviate writes one character per test instead of a line.
	Abbreviate bool
	// FailureDebug prints the details of a failing test as soon as it fails.
	FailureDebug bool
	// PrintFailures prints the details of every failing test after the run.
	PrintFailures bool
	// Summary prints totals and worker balance after the run.
	Summary bool
	// SlowestCount is the number of slowest tests to list, 0 to disable.
	SlowestCount int
}

// DefaultOptions returns the options used by the trace command.
func DefaultOptions() Options {
	return Options{
		Pretty:       true,
		FailureDebug: true,
		Summary:      true,
		SlowestCount: 10,
	}
}

// Aggregator owns the result table of one run.
type Aggregator struct {
	out   ui.Writer
	opts  Options
	sinks []ResultSink
	now   func() time.Time

	seq     int
	results []*types.TestResult
	open    map[types.TestID][]*types.TestResult
	pending map[types.TestID]types.Details
	closed  []*types.TestResult
	fails   []*types.TestResult
	counts  map[types.TestStatus]int
	// abbreviated is set once a progress character has been written.
	abbreviated bool
}

// New creates an Aggregator writing its trace to out.
func New(out ui.Writer, opts Options, sinks ...ResultSink) *Aggregator {
	return &Aggregator{
		out:     out,
		opts:    opts,
		sinks:   sinks,
		now:     time.Now,
		open:    make(map[types.TestID][]*types.TestResult),
		pending: make(map[types.TestID]types.Details),
		counts:  make(map[types.TestStatus]int),
	}
}

// Consume processes a single event.
func (a *Aggregator) Consume(ev *stream.Event) error {
	if ev.IsOutput() {
		return a.passthrough(ev)
	}
	switch {
	case ev.Status == types.TestStatusInProgress:
		return a.start(ev)
	case ev.Status.IsTerminal():
		return a.stop(ev)
	case ev.Status == types.TestStatusUnknown:
		a.attach(ev)
	}
	return nil
}

// Run consumes d until it is exhausted or fails, then finishes the run and
// renders the summary. The summary covers every event decoded before a
// failure, and the decoding error is returned alongside it.
func (a *Aggregator) Run(d stream.Decoder) (*RunSummary, error) {
	var runErr error
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			runErr = err
			break
		}
		if err := a.Consume(ev); err != nil {
			runErr = err
			break
		}
	}

	summary := a.Finish()
	if err := a.Render(summary); err != nil {
		return summary, errors.Join(runErr, err)
	}
	return summary, runErr
}

func (a *Aggregator) passthrough(ev *stream.Event) error {
	for _, d := range ev.Details {
		if err := a.out.Write(string(d.Data), ui.ColorNone); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) start(ev *stream.Event) error {
	start := ev.Timestamp
	if start == nil {
		now := a.now()
		start = &now
	}
	r := a.newResult(ev)
	r.Start = start
	r.Details = r.Details.Merge(ev.Details)

	a.open[ev.TestID] = append(a.open[ev.TestID], r)

	if a.opts.Pretty && a.opts.ShowInProgress && !a.opts.Abbreviate && !a.opts.FailOnly {
		return ui.Printf(a.out, "{%s} %s ... inprogress\n", r.Worker, r.ID.StripTags())
	}
	return nil
}

func (a *Aggregator) stop(ev *stream.Event) error {
	r := a.popOpen(ev.TestID)
	if r == nil {
		// terminal status without a start: the result has no duration
		r = a.newResult(ev)
	}
	r.Status = ev.Status
	r.Stop = ev.Timestamp
	r.Details = r.Details.Merge(ev.Details)
	for _, tag := range ev.Tags {
		if !slices.Contains(r.Tags, tag) {
			r.Tags = append(r.Tags, tag)
		}
	}

	a.closed = append(a.closed, r)
	a.counts[r.Status]++
	if r.Status.IsFailure() {
		a.fails = append(a.fails, r)
	}

	if err := a.showOutcome(r); err != nil {
		return err
	}
	for _, sink := range a.sinks {
		if err := sink.Consume(r); err != nil {
			return fmt.Errorf("result sink failed for %s: %w", r.ID, err)
		}
	}
	return nil
}

// attach adds a detail-only event to the newest open record of its test, or
// holds it for the next record of that test.
func (a *Aggregator) attach(ev *stream.Event) {
	if len(ev.Details) == 0 {
		return
	}
	if stack := a.open[ev.TestID]; len(stack) > 0 {
		r := stack[len(stack)-1]
		r.Details = r.Details.Merge(ev.Details)
		return
	}
	a.pending[ev.TestID] = a.pending[ev.TestID].Merge(ev.Details)
}

func (a *Aggregator) newResult(ev *stream.Event) *types.TestResult {
	a.seq++
	r := &types.TestResult{
		Seq:    a.seq,
		ID:     ev.TestID,
		Status: types.TestStatusInProgress,
		Worker: workerOf(ev),
		Tags:   slices.Clone(ev.Tags),
	}
	if d, ok := a.pending[ev.TestID]; ok {
		r.Details = d
		delete(a.pending, ev.TestID)
	}
	a.results = append(a.results, r)
	return r
}

// popOpen removes and returns the most recently opened record of id.
func (a *Aggregator) popOpen(id types.TestID) *types.TestResult {
	stack := a.open[id]
	if len(stack) == 0 {
		return nil
	}
	r := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(a.open, id)
	} else {
		a.open[id] = stack[:len(stack)-1]
	}
	return r
}

// Finish closes the run. Records still open become dangling.
func (a *Aggregator) Finish() *RunSummary {
	s := &RunSummary{
		Counts:  make(map[types.TestStatus]int, len(a.counts)),
		Results: slices.Clone(a.closed),
		Fails:   slices.Clone(a.fails),
	}
	for st, n := range a.counts {
		s.Counts[st] = n
	}
	for _, r := range a.results {
		if r.Status == types.TestStatusInProgress {
			s.Dangling = append(s.Dangling, r)
		}
	}
	s.compute()
	return s
}

// workerOf returns the lane that produced ev: the number of a worker-N tag,
// else the route code, else "0".
func workerOf(ev *stream.Event) string {
	for _, tag := range ev.Tags {
		if n, ok := strings.CutPrefix(tag, "worker-"); ok && n != "" {
			return n
		}
	}
	if ev.RouteCode != "" {
		return ev.RouteCode
	}
	return "0"
}
