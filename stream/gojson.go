package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum-optimism/op-testr/types"
)

// Actions emitted by `go test -json`.
const (
	ActionStart       = "start"
	ActionRun         = "run"
	ActionPause       = "pause"
	ActionCont        = "cont"
	ActionPass        = "pass"
	ActionFail        = "fail"
	ActionSkip        = "skip"
	ActionOutput      = "output"
	ActionBuildOutput = "build-output"
	ActionBuildFail   = "build-fail"
)

// TestEvent is one line of `go test -json` output.
type TestEvent struct {
	Time        time.Time
	Action      string
	Package     string
	Test        string
	Elapsed     float64
	Output      string
	ImportPath  string
	FailedBuild string
}

// GoTestID joins a package path and test name into a TestID.
func GoTestID(pkg, test string) types.TestID {
	if test == "" {
		return types.TestID(pkg)
	}
	return types.TestID(pkg + "." + test)
}

// goJSONDecoder maps test2json events onto stream events. Package output is
// held back and only surfaces when the package fails without any failing
// test, which is how build failures and panics outside tests show up.
type goJSONDecoder struct {
	r         *bufio.Reader
	line      int64
	pkgOutput map[string][]byte
	pkgFailed map[string]bool
}

func newGoJSONDecoder(r *bufio.Reader) *goJSONDecoder {
	return &goJSONDecoder{
		r:         r,
		pkgOutput: make(map[string][]byte),
		pkgFailed: make(map[string]bool),
	}
}

func (d *goJSONDecoder) Next() (*Event, error) {
	for {
		raw, err := d.r.ReadBytes('\n')
		if len(raw) == 0 {
			return nil, err
		}
		d.line++
		line := bytes.TrimSpace(raw)
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			return outputEvent(raw), nil
		}
		var te TestEvent
		if err := json.Unmarshal(line, &te); err != nil {
			return nil, &FormatError{Format: FormatGoJSON, Offset: d.line, Err: fmt.Errorf("invalid test event: %w", err)}
		}
		if ev := d.convert(&te); ev != nil {
			return ev, nil
		}
	}
}

func (d *goJSONDecoder) convert(te *TestEvent) *Event {
	var ts *time.Time
	if !te.Time.IsZero() {
		ts = timePtr(te.Time.UTC())
	}

	if te.Action == ActionBuildOutput {
		d.pkgOutput[te.ImportPath] = append(d.pkgOutput[te.ImportPath], te.Output...)
		return nil
	}
	if te.Test == "" {
		return d.convertPackage(te, ts)
	}

	ev := &Event{TestID: GoTestID(te.Package, te.Test), Timestamp: ts}
	switch te.Action {
	case ActionRun:
		ev.Status = types.TestStatusInProgress
	case ActionPass:
		ev.Status = types.TestStatusSuccess
	case ActionFail:
		ev.Status = types.TestStatusFail
		d.pkgFailed[te.Package] = true
	case ActionSkip:
		ev.Status = types.TestStatusSkip
	case ActionOutput:
		ev.Details = ev.Details.Append(DetailStdout, "text/plain", []byte(te.Output))
	default:
		return nil
	}
	return ev
}

func (d *goJSONDecoder) convertPackage(te *TestEvent, ts *time.Time) *Event {
	switch te.Action {
	case ActionOutput:
		d.pkgOutput[te.Package] = append(d.pkgOutput[te.Package], te.Output...)
	case ActionPass, ActionSkip:
		delete(d.pkgOutput, te.Package)
	case ActionFail:
		output := d.pkgOutput[te.Package]
		if te.FailedBuild != "" {
			output = append(d.pkgOutput[te.FailedBuild], output...)
			delete(d.pkgOutput, te.FailedBuild)
		}
		delete(d.pkgOutput, te.Package)
		if d.pkgFailed[te.Package] {
			return nil
		}
		ev := &Event{TestID: GoTestID(te.Package, ""), Status: types.TestStatusError, Timestamp: ts}
		if len(output) > 0 {
			ev.Details = ev.Details.Append(DetailStdout, "text/plain", output)
		}
		return ev
	}
	return nil
}
