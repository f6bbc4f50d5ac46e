package eventlog

import (
	"sort"
	"sync"

	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// Log is the in-memory hot event log: an append-only collection kept
// ordered by (time, append sequence).
//
// Single-writer, multiple-reader: Append serializes behind the mutex;
// cursors returned by IterBetween read an immutable snapshot and never
// observe later mutation.
type Log struct {
	mu      sync.RWMutex
	ordered []Event // by (time, seq)
	clock   *Clock
	ids     IDGenerator
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithClock replaces the log's sequence clock. Import and archive reload
// use this to resume from a known position.
func WithClock(c *Clock) LogOption {
	return func(l *Log) { l.clock = c }
}

// WithIDGenerator replaces the event ID generator. Tests use
// FixedGenerator for deterministic IDs.
func WithIDGenerator(g IDGenerator) LogOption {
	return func(l *Log) { l.ids = g }
}

// NewLog creates an empty log with a fresh clock and UUIDv7 IDs.
func NewLog(opts ...LogOption) *Log {
	l := &Log{
		clock: NewClock(),
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates the event, stamps its sequence number (and ID, when
// absent), normalizes its domain, and inserts it in time order. The
// stamped copy is returned; the caller's value is not mutated.
//
// Events may be asserted out of time order - a historical fact can
// arrive after later facts - so insertion keeps the (time, seq) order
// rather than trusting arrival order.
func (l *Log) Append(e Event) (Event, error) {
	if err := e.Validate(); err != nil {
		return Event{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e.Seq = l.clock.Next()
	if e.ID == "" {
		e.ID = l.ids.Generate()
	}
	e.Domain = rules.NormalizeDomain(e.Domain)

	idx := sort.Search(len(l.ordered), func(i int) bool {
		return e.before(l.ordered[i])
	})
	l.ordered = append(l.ordered, Event{})
	copy(l.ordered[idx+1:], l.ordered[idx:])
	l.ordered[idx] = e

	return e, nil
}

// Len returns the number of hot events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ordered)
}

// LastSeq returns the clock position after the most recent append.
func (l *Log) LastSeq() int64 {
	return l.clock.Current()
}

// Snapshot returns a time-ordered copy of every hot event.
func (l *Log) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, len(l.ordered))
	copy(out, l.ordered)
	return out
}

// IterBetween returns a cursor over the events with from <= time <= to
// (exact instant comparison; granularity widening is the resolver's
// concern). Nil bounds are open. Each call yields an independent,
// restartable cursor over a consistent snapshot, so concurrent queries
// do not interfere.
func (l *Log) IterBetween(from, to *temporal.TimePoint) *Cursor {
	l.mu.RLock()
	defer l.mu.RUnlock()

	lo := 0
	if from != nil {
		lo = sort.Search(len(l.ordered), func(i int) bool {
			return temporal.Compare(l.ordered[i].Time, *from, false) >= 0
		})
	}
	hi := len(l.ordered)
	if to != nil {
		hi = sort.Search(len(l.ordered), func(i int) bool {
			return temporal.Compare(l.ordered[i].Time, *to, false) > 0
		})
	}
	if hi < lo {
		hi = lo
	}

	events := make([]Event, hi-lo)
	copy(events, l.ordered[lo:hi])
	return &Cursor{events: events}
}

// TrimOldest removes and returns the n oldest events. This is archival
// support for the sliding window, not deletion: the window moves the
// returned events to the cold store, where they remain queryable.
func (l *Log) TrimOldest(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || len(l.ordered) == 0 {
		return nil
	}
	if n > len(l.ordered) {
		n = len(l.ordered)
	}

	out := make([]Event, n)
	copy(out, l.ordered[:n])
	l.ordered = append(l.ordered[:0], l.ordered[n:]...)
	return out
}

// Restore re-inserts an already-stamped event, keeping its original seq
// and ID. Used when an archival write fails after TrimOldest: the batch
// goes back into the hot window untouched.
func (l *Log) Restore(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := sort.Search(len(l.ordered), func(i int) bool {
		return e.before(l.ordered[i])
	})
	l.ordered = append(l.ordered, Event{})
	copy(l.ordered[idx+1:], l.ordered[idx:])
	l.ordered[idx] = e
}

// Oldest returns the oldest hot event and whether the log is non-empty.
func (l *Log) Oldest() (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.ordered) == 0 {
		return Event{}, false
	}
	return l.ordered[0], true
}

// Cursor is a finite, restartable iterator over a snapshot of events.
type Cursor struct {
	events []Event
	pos    int
}

// Next returns the next event in time order, or false when exhausted.
func (c *Cursor) Next() (Event, bool) {
	if c.pos >= len(c.events) {
		return Event{}, false
	}
	e := c.events[c.pos]
	c.pos++
	return e, true
}

// Reset rewinds the cursor to the beginning of its snapshot.
func (c *Cursor) Reset() {
	c.pos = 0
}

// Remaining returns how many events the cursor has not yet yielded.
func (c *Cursor) Remaining() int {
	return len(c.events) - c.pos
}
