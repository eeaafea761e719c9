package trace

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/op-testr/reporting"
	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/types"
	"github.com/ethereum-optimism/op-testr/ui"
)

type outcome struct {
	label  string
	abbrev string
	color  ui.Color
}

var outcomes = map[types.TestStatus]outcome{
	types.TestStatusSuccess:   {"ok", ".", ui.ColorGreen},
	types.TestStatusXFail:     {"XFAIL", "x", ui.ColorYellow},
	types.TestStatusFail:      {"FAILED", "F", ui.ColorRed},
	types.TestStatusError:     {"ERROR", "E", ui.ColorRed},
	types.TestStatusUXSuccess: {"UXSUCCESS", "u", ui.ColorRed},
	types.TestStatusSkip:      {"SKIPPED", "S", ui.ColorBlue},
}

// showOutcome writes the live trace for a closed result.
func (a *Aggregator) showOutcome(r *types.TestResult) error {
	if !a.opts.Pretty {
		return nil
	}
	failed := r.Status.IsFailure()
	if a.opts.FailOnly && !failed {
		return nil
	}
	o := outcomes[r.Status]

	if a.opts.Abbreviate {
		a.abbreviated = true
		return a.out.Write(o.abbrev, o.color)
	}

	line := fmt.Sprintf("{%s} %s", r.Worker, r.ID.StripTags())
	if r.Status != types.TestStatusSkip {
		if d := r.DurationString(); d != "" {
			line += " [" + d + "]"
		}
	}
	if err := a.out.Write(line+" ... ", ui.ColorNone); err != nil {
		return err
	}
	if err := a.out.Write(o.label, o.color); err != nil {
		return err
	}
	if r.Status == types.TestStatusSkip {
		if reason := skipReason(r); reason != "" {
			if err := a.out.Write(": "+reason, ui.ColorNone); err != nil {
				return err
			}
		}
	}
	if err := a.out.Write("\n", ui.ColorNone); err != nil {
		return err
	}

	switch {
	case failed && a.opts.FailureDebug:
		return a.printAttachments(r, true)
	case r.Status.IsPassing() && a.opts.ShowOutput:
		return a.printAttachments(r, false)
	}
	return nil
}

func skipReason(r *types.TestResult) string {
	for _, name := range []string{stream.DetailReason, "skip reason"} {
		if reason := strings.TrimSpace(r.Details.Text(name)); reason != "" {
			return reason
		}
	}
	return ""
}

// printAttachments writes the captured details of r. Unless allChannels is
// set only stdout and stderr are shown.
func (a *Aggregator) printAttachments(r *types.TestResult, allChannels bool) error {
	for _, att := range r.Details {
		// names may carry a suffix, e.g. "pythonlogging:''"
		name, _, _ := strings.Cut(att.Name, ":")
		if !allChannels && name != stream.DetailStdout && name != stream.DetailStderr {
			continue
		}
		text := strings.ToValidUTF8(string(att.Data), "�")
		if strings.TrimSpace(text) == "" {
			continue
		}
		block := "\n" + ui.Underline("Captured "+name+":", '~') + ui.Indent(text, "    ")
		if err := a.out.Write(block, ui.ColorNone); err != nil {
			return err
		}
	}
	return nil
}

// Render writes everything that follows the live trace: collected failures,
// totals, worker balance, dangling tests, the slowest tests and the final
// verdict.
func (a *Aggregator) Render(s *RunSummary) error {
	if a.abbreviated {
		if err := a.out.Write("\n", ui.ColorNone); err != nil {
			return err
		}
	}

	if a.opts.PrintFailures {
		if err := a.printFails(s); err != nil {
			return err
		}
	}
	if a.opts.Summary {
		if err := a.out.Write(summaryText(s), ui.ColorNone); err != nil {
			return err
		}
	}
	if len(s.Dangling) > 0 {
		if err := a.printDangling(s); err != nil {
			return err
		}
	}
	if a.opts.SlowestCount > 0 {
		if slowest := s.Slowest(a.opts.SlowestCount); len(slowest) > 0 {
			text := "\nSlowest Tests:\n" + reporting.SlowestTable(slowest) + "\n"
			if err := a.out.Write(text, ui.ColorNone); err != nil {
				return err
			}
		}
	}
	return a.printVerdict(s)
}

func (a *Aggregator) printFails(s *RunSummary) error {
	if len(s.Fails) == 0 {
		return nil
	}
	title := fmt.Sprintf("Failed %d tests - output below:", len(s.Fails))
	if err := a.out.Write("\n"+ui.Heading(title, '='), ui.ColorNone); err != nil {
		return err
	}
	for _, r := range s.Fails {
		if err := a.out.Write("\n"+ui.Underline(string(r.ID), '-'), ui.ColorNone); err != nil {
			return err
		}
		if err := a.printAttachments(r, true); err != nil {
			return err
		}
	}
	return a.out.Write("\n", ui.ColorNone)
}

func summaryText(s *RunSummary) string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(ui.Heading("Totals", '='))
	fmt.Fprintf(&sb, "Ran: %d tests in %.4f sec.\n", s.Total(), s.Elapsed.Seconds())
	fmt.Fprintf(&sb, " - Passed: %d\n", s.Count(types.TestStatusSuccess))
	fmt.Fprintf(&sb, " - Skipped: %d\n", s.Count(types.TestStatusSkip))
	fmt.Fprintf(&sb, " - Expected Fail: %d\n", s.Count(types.TestStatusXFail))
	fmt.Fprintf(&sb, " - Unexpected Success: %d\n", s.Count(types.TestStatusUXSuccess))
	fmt.Fprintf(&sb, " - Failed: %d\n", s.Count(types.TestStatusFail))
	fmt.Fprintf(&sb, " - Errored: %d\n", s.Count(types.TestStatusError))
	fmt.Fprintf(&sb, "Sum of execute time for each test: %.4f sec.\n", s.TotalDuration.Seconds())

	if len(s.Workers) == 0 {
		return sb.String()
	}
	sb.WriteString("\n")
	sb.WriteString(ui.Heading("Worker Balance", '='))
	next := 0
	for _, w := range s.Workers {
		if n, err := strconv.Atoi(w.Worker); err == nil {
			for ; next < n; next++ {
				fmt.Fprintf(&sb, " - WARNING: missing Worker %d!\n", next)
			}
			next = n + 1
		}
		elapsed := ""
		if d, ok := w.Elapsed(); ok {
			elapsed = types.FormatSeconds(d)
		}
		fmt.Fprintf(&sb, " - Worker %s (%d tests) => %s\n", w.Worker, len(w.Results), elapsed)
	}
	return sb.String()
}

func (a *Aggregator) printDangling(s *RunSummary) error {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(ui.Heading("Tests that did not report", '='))
	for _, w := range s.Warnings() {
		fmt.Fprintf(&sb, " - {%s} %s\n", w.Result.Worker, w.Error())
	}
	return a.out.Write(sb.String(), ui.ColorYellow)
}

func (a *Aggregator) printVerdict(s *RunSummary) error {
	switch {
	case s.Total() == 0 && len(s.Dangling) == 0:
		if err := a.out.Write("\nThe test run didn't actually run any tests\n", ui.ColorRed); err != nil {
			return err
		}
	case s.Count(types.TestStatusSuccess) == 0:
		if err := a.out.Write("\nNo tests were successful during the run\n", ui.ColorRed); err != nil {
			return err
		}
	}
	if s.Successful() {
		return a.out.Write("\nPASS\n", ui.ColorGreen)
	}
	return a.out.Write("\nFAIL\n", ui.ColorRed)
}
