package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/op-testr/types"
)

var v1Statuses = map[string]types.TestStatus{
	"test":       types.TestStatusInProgress,
	"testing":    types.TestStatusInProgress,
	"success":    types.TestStatusSuccess,
	"successful": types.TestStatusSuccess,
	"failure":    types.TestStatusFail,
	"fail":       types.TestStatusFail,
	"error":      types.TestStatusError,
	"skip":       types.TestStatusSkip,
	"xfail":      types.TestStatusXFail,
	"uxsuccess":  types.TestStatusUXSuccess,
}

var v1TimeLayouts = []string{
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// v1Decoder reads the line-oriented subunit v1 protocol.
type v1Decoder struct {
	r    *bufio.Reader
	line int64
	now  *time.Time
	tags []string
}

func newV1Decoder(r *bufio.Reader) *v1Decoder {
	return &v1Decoder{r: r}
}

func (d *v1Decoder) fail(err error) error {
	return &FormatError{Format: FormatSubunitV1, Offset: d.line, Err: err}
}

func (d *v1Decoder) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if len(line) > 0 {
		d.line++
		return line, nil
	}
	return "", err
}

func (d *v1Decoder) Next() (*Event, error) {
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, err
		}
		ev, err := d.parse(raw)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
}

// parse handles one protocol line. A nil event means the line only changed
// decoder state.
func (d *v1Decoder) parse(raw string) (*Event, error) {
	line := strings.TrimRight(raw, "\r\n")
	cmd, arg, ok := cutCommand(line)
	if !ok {
		return outputEvent([]byte(raw)), nil
	}

	switch cmd {
	case "time":
		ts, err := parseV1Time(arg)
		if err != nil {
			return nil, d.fail(err)
		}
		d.now = &ts
		return nil, nil
	case "tags":
		d.applyTags(strings.Fields(arg))
		return nil, nil
	case "progress":
		return nil, nil
	}

	status, known := v1Statuses[cmd]
	if !known || arg == "" {
		return outputEvent([]byte(raw)), nil
	}

	ev := &Event{Status: status, Timestamp: d.now, Tags: slices.Clone(d.tags)}
	id := arg
	switch {
	case strings.HasSuffix(arg, "[ multipart"):
		id = strings.TrimSpace(strings.TrimSuffix(arg, "[ multipart"))
		details, err := d.readMultipart()
		if err != nil {
			return nil, err
		}
		ev.Details = details
	case strings.HasSuffix(arg, "["):
		id = strings.TrimSpace(strings.TrimSuffix(arg, "["))
		data, err := d.readBracketed()
		if err != nil {
			return nil, err
		}
		ev.Details = ev.Details.Append(bracketDetailName(status), "text/plain;charset=utf8", data)
	}
	ev.TestID = types.TestID(id)
	return ev, nil
}

func (d *v1Decoder) applyTags(tags []string) {
	for _, tag := range tags {
		if name, ok := strings.CutPrefix(tag, "-"); ok {
			d.tags = slices.DeleteFunc(d.tags, func(t string) bool { return t == name })
			continue
		}
		if !slices.Contains(d.tags, tag) {
			d.tags = append(d.tags, tag)
		}
	}
}

func bracketDetailName(status types.TestStatus) string {
	switch status {
	case types.TestStatusSkip, types.TestStatusXFail:
		return DetailReason
	}
	return DetailTraceback
}

// readBracketed reads a "[ ... ]" detail block. Lines starting with " ]" are
// escaped closing brackets.
func (d *v1Decoder) readBracketed() ([]byte, error) {
	var sb strings.Builder
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, d.fail(errors.New("unterminated detail block"))
		}
		if strings.TrimRight(raw, "\r\n") == "]" {
			return []byte(sb.String()), nil
		}
		if strings.HasPrefix(raw, " ]") {
			raw = raw[1:]
		}
		sb.WriteString(raw)
	}
}

// readMultipart reads a multipart detail block: for each part a Content-Type
// line, a name line, then HTTP style chunks ending with a zero length chunk.
func (d *v1Decoder) readMultipart() (types.Details, error) {
	var details types.Details
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, d.fail(errors.New("unterminated multipart block"))
		}
		line := strings.TrimRight(raw, "\r\n")
		if line == "]" {
			return details, nil
		}
		contentType, ok := strings.CutPrefix(line, "Content-Type: ")
		if !ok {
			return nil, d.fail(fmt.Errorf("expected Content-Type, got %q", line))
		}
		name, err := d.readLine()
		if err != nil {
			return nil, d.fail(errors.New("missing detail name"))
		}
		data, err := d.readChunks()
		if err != nil {
			return nil, err
		}
		details = details.Append(strings.TrimRight(name, "\r\n"), contentType, data)
	}
}

func (d *v1Decoder) readChunks() ([]byte, error) {
	var data []byte
	for {
		raw, err := d.readLine()
		if err != nil {
			return nil, d.fail(errors.New("unterminated chunked detail"))
		}
		size, err := strconv.ParseUint(strings.TrimRight(raw, "\r\n"), 16, 32)
		if err != nil {
			return nil, d.fail(fmt.Errorf("bad chunk length %q", strings.TrimSpace(raw)))
		}
		if size == 0 {
			return data, nil
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(d.r, chunk); err != nil {
			return nil, d.fail(errors.New("truncated chunk"))
		}
		d.line += int64(strings.Count(string(chunk), "\n"))
		data = append(data, chunk...)
	}
}

// cutCommand splits "cmd: arg" or "cmd arg" into its lower-cased command and
// argument.
func cutCommand(line string) (cmd, arg string, ok bool) {
	i := strings.IndexAny(line, ": ")
	if i <= 0 {
		return "", "", false
	}
	cmd = strings.ToLower(line[:i])
	switch cmd {
	case "time", "tags", "progress":
	default:
		if _, known := v1Statuses[cmd]; !known {
			return "", "", false
		}
	}
	return cmd, strings.TrimSpace(line[i+1:]), true
}

func parseV1Time(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range v1TimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
