package stream

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/ethereum-optimism/op-testr/types"
)

// Encoder writes events as subunit v2 packets.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes ev. A packet carries at most one file, so each attachment is
// written as its own detail packet ahead of the status packet.
func (e *Encoder) Encode(ev *Event) error {
	for i, a := range ev.Details {
		p := *ev
		p.Status = types.TestStatusUnknown
		p.EOF = ev.EOF && i == len(ev.Details)-1
		if err := e.write(&p, a.Name, a.ContentType, a.Data); err != nil {
			return err
		}
	}
	if ev.Status == types.TestStatusUnknown && (len(ev.Details) > 0 || ev.TestID == "") {
		return nil
	}
	status := *ev
	status.EOF = false
	return e.write(&status, "", "", nil)
}

func (e *Encoder) write(ev *Event, fileName, mime string, data []byte) error {
	flags := flagVersion2 | statusCode(ev.Status)
	var body []byte
	var err error

	if ev.Timestamp != nil {
		flags |= flagTimestamp
		ts := ev.Timestamp.UTC()
		body = binary.BigEndian.AppendUint32(body, uint32(ts.Unix()))
		if body, err = appendVarint(body, uint32(ts.Nanosecond())); err != nil {
			return err
		}
	}
	if ev.TestID != "" {
		flags |= flagTestID | flagRunnable
		if body, err = appendString(body, string(ev.TestID)); err != nil {
			return err
		}
	}
	if len(ev.Tags) > 0 {
		flags |= flagTags
		if body, err = appendVarint(body, uint32(len(ev.Tags))); err != nil {
			return err
		}
		for _, tag := range ev.Tags {
			if body, err = appendString(body, tag); err != nil {
				return err
			}
		}
	}
	if fileName != "" {
		if mime != "" {
			flags |= flagMimeType
			if body, err = appendString(body, mime); err != nil {
				return err
			}
		}
		flags |= flagFileContent
		if body, err = appendString(body, fileName); err != nil {
			return err
		}
		if body, err = appendVarint(body, uint32(len(data))); err != nil {
			return err
		}
		body = append(body, data...)
		if ev.EOF {
			flags |= flagEOF
		}
	}
	if ev.RouteCode != "" {
		flags |= flagRouteCode
		if body, err = appendString(body, ev.RouteCode); err != nil {
			return err
		}
	}

	// signature + flags + length + body + crc, where length counts itself.
	total := len(body) + 7
	switch {
	case total+1 < 1<<6:
		total++
	case total+2 < 1<<14:
		total += 2
	case total+3 < 1<<22:
		total += 3
	default:
		total += 4
	}
	if total > MaxPacketSize {
		return fmt.Errorf("packet for %q is %d bytes, exceeds maximum", ev.TestID, total)
	}

	packet := make([]byte, 0, total)
	packet = append(packet, Signature)
	packet = binary.BigEndian.AppendUint16(packet, flags)
	if packet, err = appendVarint(packet, uint32(total)); err != nil {
		return err
	}
	packet = append(packet, body...)
	packet = binary.BigEndian.AppendUint32(packet, crc32.ChecksumIEEE(packet))
	_, err = e.w.Write(packet)
	return err
}

func appendString(buf []byte, s string) ([]byte, error) {
	buf, err := appendVarint(buf, uint32(len(s)))
	if err != nil {
		return buf, err
	}
	return append(buf, s...), nil
}
