package stream

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-testr/types"
)

func withCRC(packet []byte) []byte {
	return binary.BigEndian.AppendUint32(packet, crc32.ChecksumIEEE(packet))
}

func TestV2DecodeHandBuiltPacket(t *testing.T) {
	// exists status, runnable, test id "foo"
	packet := withCRC([]byte{0xB3, 0x29, 0x01, 0x0C, 0x03, 'f', 'o', 'o'})

	dec := NewDecoder(bytes.NewReader(packet))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, FormatSubunitV2, dec.Format())
	assert.Equal(t, types.TestID("foo"), ev.TestID)
	assert.Equal(t, types.TestStatusExists, ev.Status)
	assert.Nil(t, ev.Timestamp)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestV2EncoderMatchesWireLayout(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(&Event{TestID: "foo", Status: types.TestStatusExists}))
	assert.Equal(t, withCRC([]byte{0xB3, 0x29, 0x01, 0x0C, 0x03, 'f', 'o', 'o'}), buf.Bytes())
}

func TestV2RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)
	var details types.Details
	details = details.Append("traceback", "text/plain;charset=utf8", []byte("Traceback: boom\n"))
	details = details.Append("stdout", "text/plain", bytes.Repeat([]byte("x"), 70000))

	events := []*Event{
		{TestID: "pkg.Class.test_a", Status: types.TestStatusInProgress, Timestamp: &ts, Tags: []string{"worker-1"}, RouteCode: "1"},
		{TestID: "pkg.Class.test_a", Status: types.TestStatusFail, Timestamp: &ts, Details: details, EOF: true},
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, ev := range events {
		require.NoError(t, enc.Encode(ev))
	}

	got, err := ReadAll(NewDecoder(&buf))
	require.NoError(t, err)
	// inprogress, two detail packets, status packet
	require.Len(t, got, 4)

	assert.Equal(t, types.TestStatusInProgress, got[0].Status)
	assert.Equal(t, []string{"worker-1"}, got[0].Tags)
	assert.Equal(t, "1", got[0].RouteCode)
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, ts.Equal(*got[0].Timestamp))

	assert.Equal(t, types.TestStatusUnknown, got[1].Status)
	assert.Equal(t, "Traceback: boom\n", got[1].Details.Text("traceback"))
	assert.Equal(t, "text/plain;charset=utf8", got[1].Details[0].ContentType)
	assert.False(t, got[1].EOF)

	assert.Len(t, got[2].Details.Text("stdout"), 70000)
	assert.True(t, got[2].EOF)

	assert.Equal(t, types.TestStatusFail, got[3].Status)
	assert.Empty(t, got[3].Details)
}

func TestV2ErrorStatusTravelsAsFail(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf).Encode(&Event{TestID: "a", Status: types.TestStatusError}))

	ev, err := NewDecoder(&buf).Next()
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusFail, ev.Status)
}

func TestV2CRCMismatch(t *testing.T) {
	packet := withCRC([]byte{0xB3, 0x29, 0x01, 0x0C, 0x03, 'f', 'o', 'o'})
	packet[len(packet)-1] ^= 0xFF

	_, err := NewDecoder(bytes.NewReader(packet)).Next()
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.Contains(t, err.Error(), "crc mismatch")
}

func TestV2Truncated(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(&Event{TestID: "a", Status: types.TestStatusInProgress}))
	require.NoError(t, enc.Encode(&Event{TestID: "a", Status: types.TestStatusSuccess}))
	data := buf.Bytes()[:buf.Len()-3]

	events, err := ReadAll(NewDecoder(bytes.NewReader(data)))
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
	assert.ErrorIs(t, err, errTruncated)
	// the complete packet decoded before the failure is kept
	require.Len(t, events, 1)
	assert.Equal(t, types.TestStatusInProgress, events[0].Status)
}

func TestV2BadVersion(t *testing.T) {
	packet := withCRC([]byte{0xB3, 0x19, 0x01, 0x0C, 0x03, 'f', 'o', 'o'})
	_, err := NewDecoder(bytes.NewReader(packet)).Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestV2PassthroughBetweenPackets(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(&Event{TestID: "a", Status: types.TestStatusInProgress}))
	buf.WriteString("stray line\nno newline")
	require.NoError(t, enc.Encode(&Event{TestID: "a", Status: types.TestStatusSuccess}))

	events, err := ReadAll(NewDecoder(&buf))
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.True(t, events[1].IsOutput())
	assert.Equal(t, "stray line\n", events[1].Details.Text(DetailStdout))
	assert.Equal(t, "no newline", events[2].Details.Text(DetailStdout))
	assert.Equal(t, types.TestStatusSuccess, events[3].Status)
}

func TestVarintBoundaries(t *testing.T) {
	for _, v := range []uint32{0, 63, 64, 16383, 16384, 4194303, 4194304, maxVarint} {
		buf, err := appendVarint(nil, v)
		require.NoError(t, err)
		got, n, err := decodeVarint(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}

	_, err := appendVarint(nil, maxVarint+1)
	require.Error(t, err)
}
