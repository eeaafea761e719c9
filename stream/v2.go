package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
	"unicode/utf8"

	"github.com/ethereum-optimism/op-testr/types"
)

// Signature is the first byte of every subunit v2 packet.
const Signature byte = 0xB3

const (
	flagVersionMask uint16 = 0xF000
	flagVersion2    uint16 = 0x2000
	flagTestID      uint16 = 0x0800
	flagRouteCode   uint16 = 0x0400
	flagTimestamp   uint16 = 0x0200
	flagRunnable    uint16 = 0x0100
	flagTags        uint16 = 0x0080
	flagMimeType    uint16 = 0x0040
	flagEOF         uint16 = 0x0020
	flagFileContent uint16 = 0x0010
	flagStatusMask  uint16 = 0x0007

	// MaxPacketSize is the largest packet the format can describe.
	MaxPacketSize = 4*1024*1024 - 1
	maxVarint     = 1<<30 - 1
)

var (
	errTruncated = errors.New("truncated packet")

	statusByCode = [...]types.TestStatus{
		types.TestStatusUnknown,
		types.TestStatusExists,
		types.TestStatusInProgress,
		types.TestStatusSuccess,
		types.TestStatusUXSuccess,
		types.TestStatusSkip,
		types.TestStatusFail,
		types.TestStatusXFail,
	}
)

func statusCode(s types.TestStatus) uint16 {
	if s == types.TestStatusError {
		// v2 has no error status; errors travel as failures.
		return 6
	}
	for i, st := range statusByCode {
		if st == s {
			return uint16(i)
		}
	}
	return 0
}

type v2Decoder struct {
	r      *bufio.Reader
	offset int64
}

func newV2Decoder(r *bufio.Reader) *v2Decoder {
	return &v2Decoder{r: r}
}

func (d *v2Decoder) fail(err error) error {
	return &FormatError{Format: FormatSubunitV2, Offset: d.offset, Err: err}
}

func (d *v2Decoder) Next() (*Event, error) {
	next, err := d.r.Peek(1)
	if err != nil {
		return nil, err
	}
	if next[0] != Signature {
		return d.passthrough()
	}
	return d.packet()
}

// passthrough returns the bytes up to the next newline or packet signature as
// non-test output.
func (d *v2Decoder) passthrough() (*Event, error) {
	var buf []byte
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			break
		}
		buf = append(buf, c)
		if c == '\n' {
			break
		}
		next, err := d.r.Peek(1)
		if err != nil || next[0] == Signature {
			break
		}
	}
	d.offset += int64(len(buf))
	return outputEvent(buf), nil
}

func (d *v2Decoder) packet() (*Event, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(d.r, head); err != nil {
		return nil, d.fail(errTruncated)
	}
	flags := binary.BigEndian.Uint16(head[1:])
	if flags&flagVersionMask != flagVersion2 {
		return nil, d.fail(fmt.Errorf("unsupported version 0x%x", flags>>12))
	}

	first, err := d.r.ReadByte()
	if err != nil {
		return nil, d.fail(errTruncated)
	}
	lenField := make([]byte, int(first>>6)+1)
	lenField[0] = first
	if _, err := io.ReadFull(d.r, lenField[1:]); err != nil {
		return nil, d.fail(errTruncated)
	}
	length, _, err := decodeVarint(lenField)
	if err != nil {
		return nil, d.fail(err)
	}
	headerLen := len(head) + len(lenField)
	if length > MaxPacketSize {
		return nil, d.fail(fmt.Errorf("packet length %d exceeds maximum", length))
	}
	if int(length) < headerLen+4 {
		return nil, d.fail(fmt.Errorf("packet length %d too short", length))
	}

	packet := make([]byte, length)
	copy(packet, head)
	copy(packet[len(head):], lenField)
	if _, err := io.ReadFull(d.r, packet[headerLen:]); err != nil {
		return nil, d.fail(errTruncated)
	}

	crcAt := len(packet) - 4
	want := binary.BigEndian.Uint32(packet[crcAt:])
	if got := crc32.ChecksumIEEE(packet[:crcAt]); got != want {
		return nil, d.fail(fmt.Errorf("crc mismatch: got 0x%08x, want 0x%08x", got, want))
	}

	ev, err := parseFields(flags, packet[headerLen:crcAt])
	if err != nil {
		return nil, d.fail(err)
	}
	d.offset += int64(length)
	return ev, nil
}

func parseFields(flags uint16, body []byte) (*Event, error) {
	f := &fieldReader{buf: body}
	ev := &Event{
		Status: statusByCode[flags&flagStatusMask],
		EOF:    flags&flagEOF != 0,
	}

	if flags&flagTimestamp != 0 {
		secs, err := f.uint32()
		if err != nil {
			return nil, err
		}
		nanos, err := f.varint()
		if err != nil {
			return nil, err
		}
		ev.Timestamp = timePtr(time.Unix(int64(secs), int64(nanos)).UTC())
	}
	if flags&flagTestID != 0 {
		id, err := f.string()
		if err != nil {
			return nil, err
		}
		ev.TestID = types.TestID(id)
	}
	if flags&flagTags != 0 {
		count, err := f.varint()
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < count; i++ {
			tag, err := f.string()
			if err != nil {
				return nil, err
			}
			ev.Tags = append(ev.Tags, tag)
		}
	}
	var mime string
	if flags&flagMimeType != 0 {
		var err error
		if mime, err = f.string(); err != nil {
			return nil, err
		}
	}
	if flags&flagFileContent != 0 {
		name, err := f.string()
		if err != nil {
			return nil, err
		}
		size, err := f.varint()
		if err != nil {
			return nil, err
		}
		data, err := f.bytes(int(size))
		if err != nil {
			return nil, err
		}
		ev.Details = ev.Details.Append(name, mime, data)
	}
	if flags&flagRouteCode != 0 {
		route, err := f.string()
		if err != nil {
			return nil, err
		}
		ev.RouteCode = route
	}
	if f.pos != len(f.buf) {
		return nil, fmt.Errorf("%d trailing bytes in packet", len(f.buf)-f.pos)
	}
	return ev, nil
}

type fieldReader struct {
	buf []byte
	pos int
}

func (f *fieldReader) bytes(n int) ([]byte, error) {
	if n < 0 || f.pos+n > len(f.buf) {
		return nil, errTruncated
	}
	b := f.buf[f.pos : f.pos+n]
	f.pos += n
	return b, nil
}

func (f *fieldReader) uint32() (uint32, error) {
	b, err := f.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (f *fieldReader) varint() (uint32, error) {
	v, n, err := decodeVarint(f.buf[f.pos:])
	if err != nil {
		return 0, err
	}
	f.pos += n
	return v, nil
}

func (f *fieldReader) string() (string, error) {
	n, err := f.varint()
	if err != nil {
		return "", err
	}
	b, err := f.bytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("invalid utf-8 in string field")
	}
	return string(b), nil
}

// decodeVarint reads a subunit varint: the top two bits of the first byte
// hold the number of bytes that follow.
func decodeVarint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, errTruncated
	}
	n := int(b[0]>>6) + 1
	if len(b) < n {
		return 0, 0, errTruncated
	}
	v := uint32(b[0] & 0x3F)
	for i := 1; i < n; i++ {
		v = v<<8 | uint32(b[i])
	}
	return v, n, nil
}

func appendVarint(buf []byte, v uint32) ([]byte, error) {
	switch {
	case v < 1<<6:
		return append(buf, byte(v)), nil
	case v < 1<<14:
		return append(buf, 0x40|byte(v>>8), byte(v)), nil
	case v < 1<<22:
		return append(buf, 0x80|byte(v>>16), byte(v>>8), byte(v)), nil
	case v <= maxVarint:
		return append(buf, 0xC0|byte(v>>24), byte(v>>16), byte(v>>8), byte(v)), nil
	}
	return buf, fmt.Errorf("value %d too large for varint", v)
}
