package logging

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ethereum-optimism/op-testr/types"
)

// RawStreamSink keeps a byte-for-byte copy of the input stream.
type RawStreamSink struct {
	file *AsyncFile
}

// NewRawStreamSink creates the copy file at path.
func NewRawStreamSink(path string) (*RawStreamSink, error) {
	file, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	return &RawStreamSink{file: file}, nil
}

// Tee returns a reader that copies everything read from r into the sink.
func (s *RawStreamSink) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, s.file)
}

// Close flushes the copy.
func (s *RawStreamSink) Close() error {
	return s.file.Close()
}

// ResultLogSink writes every closed test result, with all its captured
// details, to a single log file.
type ResultLogSink struct {
	file *AsyncFile
}

// NewResultLogSink creates the log file at path.
func NewResultLogSink(path string) (*ResultLogSink, error) {
	file, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	return &ResultLogSink{file: file}, nil
}

// Consume appends one result block to the log.
func (s *ResultLogSink) Consume(result *types.TestResult) error {
	var content strings.Builder

	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ TEST: %-64s │\n", truncateString(string(result.ID), 64))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Status:   %-62s │\n", result.Status)
	fmt.Fprintf(&content, "│ Worker:   %-62s │\n", truncateString(result.Worker, 62))
	fmt.Fprintf(&content, "│ Duration: %-62s │\n", result.DurationString())
	if len(result.Tags) > 0 {
		fmt.Fprintf(&content, "│ Tags:     %-62s │\n", truncateString(strings.Join(result.Tags, ","), 62))
	}
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	for _, att := range result.Details {
		title := strings.ToUpper(att.Name) + ":"
		fmt.Fprintf(&content, "%s\n%s\n", title, strings.Repeat("~", len(title)))
		fmt.Fprintf(&content, "%s\n\n", indentText(strings.TrimRight(string(att.Data), "\n"), "  "))
	}

	_, err := s.file.Write([]byte(content.String()))
	return err
}

// Close flushes the log.
func (s *ResultLogSink) Close() error {
	return s.file.Close()
}

// indentText indents every non-empty line.
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to at most maxLen bytes and adds an
// ellipsis if needed. The cut never splits a UTF-8 sequence.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
