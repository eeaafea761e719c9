package stream

import (
	"time"

	"github.com/ethereum-optimism/op-testr/types"
)

// Detail names used for output that is not attached to a test.
const (
	DetailStdout    = "stdout"
	DetailStderr    = "stderr"
	DetailTraceback = "traceback"
	DetailReason    = "reason"
)

// Event is one decoded unit of a result stream.
type Event struct {
	TestID    types.TestID
	Status    types.TestStatus
	Timestamp *time.Time
	Tags      []string
	RouteCode string
	Details   types.Details
	// EOF marks the last chunk of the attachments carried by this event.
	EOF bool
}

// IsOutput reports whether the event carries output that does not belong to
// any test.
func (e *Event) IsOutput() bool {
	return e.TestID == "" && e.Status == types.TestStatusUnknown
}

func outputEvent(data []byte) *Event {
	var d types.Details
	return &Event{Details: d.Append(DetailStdout, "text/plain", data)}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
