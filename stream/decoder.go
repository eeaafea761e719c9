package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Format identifies the encoding of a stream.
type Format string

const (
	FormatUnknown   Format = ""
	FormatSubunitV2 Format = "subunit-v2"
	FormatSubunitV1 Format = "subunit-v1"
	FormatGoJSON    Format = "go-json"
)

// Decoder yields events in stream order. Next returns io.EOF once the stream
// is exhausted.
type Decoder interface {
	Next() (*Event, error)
}

// FormatError reports a malformed record. Events returned before the error
// remain valid.
type FormatError struct {
	Format Format
	// Offset is the byte offset for subunit v2 and the line number otherwise.
	Offset int64
	Err    error
}

func (e *FormatError) Error() string {
	unit := "line"
	if e.Format == FormatSubunitV2 {
		unit = "offset"
	}
	return fmt.Sprintf("malformed %s stream at %s %d: %v", e.Format, unit, e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError checks if the error is or wraps a FormatError
func IsFormatError(err error) bool {
	var fmtErr *FormatError
	return err != nil && errors.As(err, &fmtErr)
}

// Reader is a Decoder that picks the encoding from the first byte of input.
type Reader struct {
	src    io.Reader
	dec    Decoder
	format Format
}

var _ Decoder = (*Reader)(nil)

// NewDecoder creates a Reader over r.
func NewDecoder(r io.Reader) *Reader {
	return &Reader{src: r}
}

// Format returns the detected encoding. It is FormatUnknown until the first
// call to Next.
func (r *Reader) Format() Format {
	return r.format
}

// Next implements Decoder.
func (r *Reader) Next() (*Event, error) {
	if r.dec == nil {
		if err := r.detect(); err != nil {
			return nil, err
		}
	}
	return r.dec.Next()
}

// Rewind restarts decoding from the beginning of the source. The source must
// implement io.Seeker.
func (r *Reader) Rewind() error {
	seeker, ok := r.src.(io.Seeker)
	if !ok {
		return errors.New("stream source is not seekable")
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind stream: %w", err)
	}
	r.dec = nil
	r.format = FormatUnknown
	return nil
}

func (r *Reader) detect() error {
	br := bufio.NewReader(r.src)
	first, err := br.Peek(1)
	if err != nil {
		return err
	}
	switch first[0] {
	case Signature:
		r.format = FormatSubunitV2
		r.dec = newV2Decoder(br)
	case '{':
		r.format = FormatGoJSON
		r.dec = newGoJSONDecoder(br)
	default:
		r.format = FormatSubunitV1
		r.dec = newV1Decoder(br)
	}
	return nil
}

// ReadAll drains d. On error the events decoded so far are returned along
// with it.
func ReadAll(d Decoder) ([]*Event, error) {
	var events []*Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
