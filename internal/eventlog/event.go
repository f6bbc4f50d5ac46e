// Package eventlog provides the append-only, time-ordered event
// collection that all fluent resolution replays from.
//
// Events are immutable once appended. Retraction is modeled as a new
// terminating event, never as deletion, so the full history stays
// answerable. Two events sharing the same time are ordered by append
// sequence, which the log stamps from a monotonic logical clock.
package eventlog

import (
	"errors"
	"fmt"

	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// ErrMalformedEvent indicates an event with a missing subject or action,
// an ill-formed time, or an unparsable export line.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a single asserted fact occurrence.
//
// Object is nil for events that carry no value (bare terminations, point
// events). Domain is empty for point events with no state effect; it is
// stored case-normalized.
type Event struct {
	ID      string
	Seq     int64
	Subject string
	Action  string
	Object  fact.Value
	Domain  string
	Time    temporal.TimePoint
}

// Validate checks the fields the append boundary requires. Seq and ID
// are stamped by the log and are not validated here.
func (e Event) Validate() error {
	if e.Subject == "" {
		return fmt.Errorf("event missing subject: %w", ErrMalformedEvent)
	}
	if e.Action == "" {
		return fmt.Errorf("event missing action: %w", ErrMalformedEvent)
	}
	if e.Time.IsZero() {
		return fmt.Errorf("event %s(%s) has no time: %w", e.Action, e.Subject, ErrMalformedEvent)
	}
	return nil
}

// before orders events by exact time, then by append sequence.
// Fuzzy granularity handling belongs to resolution, not storage order.
func (e Event) before(other Event) bool {
	if c := temporal.Compare(e.Time, other.Time, false); c != 0 {
		return c < 0
	}
	return e.Seq < other.Seq
}
