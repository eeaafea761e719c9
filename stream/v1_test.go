package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/op-testr/types"
)

func TestV1Decode(t *testing.T) {
	input := strings.Join([]string{
		"time: 2024-01-02 03:04:05.000000Z",
		"tags: worker-0",
		"test: pkg.Class.test_ok",
		"time: 2024-01-02 03:04:06.500000Z",
		"success: pkg.Class.test_ok",
		"some unrelated output",
		"test pkg.Class.test_bad",
		"failure: pkg.Class.test_bad [",
		"Traceback (most recent call last):",
		" ]escaped",
		"]",
		"skip: pkg.Class.test_skip [",
		"not today",
		"]",
		"",
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))
	events, err := ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, FormatSubunitV1, dec.Format())
	require.Len(t, events, 6)

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, types.TestID("pkg.Class.test_ok"), events[0].TestID)
	assert.Equal(t, types.TestStatusInProgress, events[0].Status)
	assert.Equal(t, []string{"worker-0"}, events[0].Tags)
	require.NotNil(t, events[0].Timestamp)
	assert.True(t, start.Equal(*events[0].Timestamp))

	assert.Equal(t, types.TestStatusSuccess, events[1].Status)
	assert.True(t, start.Add(1500*time.Millisecond).Equal(*events[1].Timestamp))

	assert.True(t, events[2].IsOutput())
	assert.Equal(t, "some unrelated output\n", events[2].Details.Text(DetailStdout))

	assert.Equal(t, types.TestStatusInProgress, events[3].Status)
	assert.Equal(t, types.TestID("pkg.Class.test_bad"), events[3].TestID)

	assert.Equal(t, types.TestStatusFail, events[4].Status)
	assert.Equal(t, types.TestID("pkg.Class.test_bad"), events[4].TestID)
	assert.Equal(t, "Traceback (most recent call last):\n]escaped\n", events[4].Details.Text(DetailTraceback))

	assert.Equal(t, types.TestStatusSkip, events[5].Status)
	assert.Equal(t, "not today\n", events[5].Details.Text(DetailReason))
}

func TestV1Multipart(t *testing.T) {
	input := "test: a\n" +
		"error: a [ multipart\n" +
		"Content-Type: text/plain\n" +
		"traceback\n" +
		"5\r\n" +
		"boom\n" +
		"0\r\n" +
		"Content-Type: text/plain\n" +
		"stderr\n" +
		"3\r\n" +
		"err0\r\n" +
		"]\n"

	events, err := ReadAll(NewDecoder(strings.NewReader(input)))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.TestStatusError, events[1].Status)
	assert.Equal(t, "boom\n", events[1].Details.Text("traceback"))
	assert.Equal(t, "err", events[1].Details.Text("stderr"))
}

func TestV1TagRemoval(t *testing.T) {
	input := "tags: a b\ntags: -a\ntest: x\n"
	events, err := ReadAll(NewDecoder(strings.NewReader(input)))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"b"}, events[0].Tags)
}

func TestV1Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"unterminated block", "test: a\nfailure: a [\nboom\n", "unterminated detail block"},
		{"bad timestamp", "time: yesterday\n", "invalid timestamp"},
		{"bad chunk", "error: a [ multipart\nContent-Type: text/plain\nx\nzz\r\n]\n", "bad chunk length"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadAll(NewDecoder(strings.NewReader(tt.input)))
			require.Error(t, err)
			assert.True(t, IsFormatError(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
