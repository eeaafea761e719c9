package trace

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum-optimism/op-testr/types"
)

// DanglingTestWarning reports a test that started but never reported a
// terminal status.
type DanglingTestWarning struct {
	Result *types.TestResult
}

func (w DanglingTestWarning) Error() string {
	return fmt.Sprintf("%s was running but did not report a result", w.Result.ID)
}

// WorkerRun is the ordered set of results produced by one worker.
type WorkerRun struct {
	Worker  string
	Results []*types.TestResult
}

// Elapsed returns the time between the first start and the last stop seen on
// the worker.
func (w *WorkerRun) Elapsed() (time.Duration, bool) {
	return span(w.Results)
}

// RunSummary aggregates a finished run.
type RunSummary struct {
	// Counts holds the number of closed results per terminal status.
	Counts map[types.TestStatus]int
	// Results are the closed results in the order they closed.
	Results  []*types.TestResult
	Fails    []*types.TestResult
	Dangling []*types.TestResult
	Workers  []*WorkerRun
	// Elapsed is the wall clock of the run: latest stop minus earliest start.
	Elapsed    time.Duration
	HasElapsed bool
	// TotalDuration is the sum of the individual test durations.
	TotalDuration time.Duration
}

func (s *RunSummary) compute() {
	s.Elapsed, s.HasElapsed = span(s.Results)

	byWorker := make(map[string]*WorkerRun)
	for _, r := range s.Results {
		if d, ok := r.Duration(); ok {
			s.TotalDuration += d
		}
		w, ok := byWorker[r.Worker]
		if !ok {
			w = &WorkerRun{Worker: r.Worker}
			byWorker[r.Worker] = w
			s.Workers = append(s.Workers, w)
		}
		w.Results = append(w.Results, r)
	}
	slices.SortFunc(s.Workers, func(a, b *WorkerRun) int {
		return compareWorkers(a.Worker, b.Worker)
	})
}

// Total returns the number of closed results.
func (s *RunSummary) Total() int {
	return len(s.Results)
}

// Count returns the number of closed results with the given status.
func (s *RunSummary) Count(status types.TestStatus) int {
	return s.Counts[status]
}

// Failed returns the number of results that fail the run.
func (s *RunSummary) Failed() int {
	return s.Counts[types.TestStatusFail] + s.Counts[types.TestStatusError] + s.Counts[types.TestStatusUXSuccess]
}

// Warnings lists every dangling test.
func (s *RunSummary) Warnings() []DanglingTestWarning {
	warnings := make([]DanglingTestWarning, 0, len(s.Dangling))
	for _, r := range s.Dangling {
		warnings = append(warnings, DanglingTestWarning{Result: r})
	}
	return warnings
}

// Successful reports whether the run passed: nothing failed, nothing was left
// dangling and at least one test succeeded.
func (s *RunSummary) Successful() bool {
	return s.Failed() == 0 && len(s.Dangling) == 0 && s.Counts[types.TestStatusSuccess] > 0
}

// ExitCode returns the process exit status for the run.
func (s *RunSummary) ExitCode() int {
	if s.Successful() {
		return 0
	}
	return 1
}

// Slowest returns up to n closed results with a known duration, slowest
// first. Equal durations are ordered by test id. n <= 0 returns all of them.
func (s *RunSummary) Slowest(n int) []*types.TestResult {
	var timed []*types.TestResult
	for _, r := range s.Results {
		if _, ok := r.Duration(); ok {
			timed = append(timed, r)
		}
	}
	slices.SortStableFunc(timed, func(a, b *types.TestResult) int {
		da, _ := a.Duration()
		db, _ := b.Duration()
		if c := cmp.Compare(db, da); c != 0 {
			return c
		}
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if n > 0 && n < len(timed) {
		timed = timed[:n]
	}
	return timed
}

// span returns latest stop minus earliest start over results.
func span(results []*types.TestResult) (time.Duration, bool) {
	var first, last *time.Time
	for _, r := range results {
		if r.Start != nil && (first == nil || r.Start.Before(*first)) {
			first = r.Start
		}
		if r.Stop != nil && (last == nil || r.Stop.After(*last)) {
			last = r.Stop
		}
	}
	if first == nil || last == nil {
		return 0, false
	}
	return last.Sub(*first), true
}

// compareWorkers orders numeric worker ids numerically, ahead of any others.
func compareWorkers(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return cmp.Compare(a, b)
}
