package eventlog

import "sync/atomic"

// Clock is the monotonic logical clock that stamps append sequence
// numbers. Sequence numbers break ties between events sharing the same
// time, so replay order is deterministic and never depends on wall-clock
// races.
//
// Thread-safety: safe for concurrent use, though the log's single-writer
// discipline means only one goroutine normally calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0; the first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming from a known position. Used by
// import and archive reload so fresh appends sort after restored events.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number. Each call returns a unique,
// strictly increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the clock position without advancing it.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
