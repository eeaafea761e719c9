package testr

import (
	"io"
	"time"

	"github.com/ethereum-optimism/op-testr/stream"
	"github.com/ethereum-optimism/op-testr/types"
)

// Generate defaults.
const (
	DefaultGenerateStatus = types.TestStatusSuccess
	DefaultGenerateTestID = types.TestID("devstack")
)

// Generate writes a two packet subunit v2 stream for a single test: inprogress
// at start, then status once elapsed has passed.
func Generate(w io.Writer, start time.Time, elapsed time.Duration, status types.TestStatus, id types.TestID) error {
	if !status.IsTerminal() {
		return types.NewConfigurationError(nil, "%q is not a final test status", status)
	}
	if id == "" {
		return types.NewConfigurationError(nil, "test id must not be empty")
	}
	if elapsed < 0 {
		return types.NewConfigurationError(nil, "elapsed time must not be negative")
	}

	stop := start.Add(elapsed)
	enc := stream.NewEncoder(w)
	if err := enc.Encode(&stream.Event{TestID: id, Status: types.TestStatusInProgress, Timestamp: &start}); err != nil {
		return NewRuntimeError(err)
	}
	if err := enc.Encode(&stream.Event{TestID: id, Status: status, Timestamp: &stop}); err != nil {
		return NewRuntimeError(err)
	}
	return nil
}

// EpochTime converts fractional seconds since the Unix epoch to a time.
func EpochTime(seconds float64) time.Time {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
