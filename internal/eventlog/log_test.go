package eventlog

import (
	"errors"
	"testing"

	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

func mustTime(t *testing.T, raw string) temporal.TimePoint {
	t.Helper()
	tp, err := temporal.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", raw, err)
	}
	return tp
}

func TestAppend_StampsSeqAndID(t *testing.T) {
	log := NewLog(WithIDGenerator(NewFixedGenerator("ev-1", "ev-2")))

	e1, err := log.Append(Event{Subject: "alice", Action: "hired", Time: mustTime(t, "2020-01-01")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	e2, err := log.Append(Event{Subject: "alice", Action: "promoted", Time: mustTime(t, "2022-01-01")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Errorf("seq = %d, %d, want 1, 2", e1.Seq, e2.Seq)
	}
	if e1.ID != "ev-1" || e2.ID != "ev-2" {
		t.Errorf("ids = %q, %q", e1.ID, e2.ID)
	}
}

func TestAppend_Malformed(t *testing.T) {
	log := NewLog()
	when := mustTime(t, "2020-01-01")

	cases := []Event{
		{Action: "hired", Time: when},              // missing subject
		{Subject: "alice", Time: when},             // missing action
		{Subject: "alice", Action: "hired"},        // zero time
	}
	for _, e := range cases {
		if _, err := log.Append(e); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("Append(%+v) error = %v, want ErrMalformedEvent", e, err)
		}
	}
	if log.Len() != 0 {
		t.Errorf("failed appends left %d events behind", log.Len())
	}
}

func TestAppend_NormalizesDomain(t *testing.T) {
	log := NewLog()
	e, err := log.Append(Event{Subject: "alice", Action: "moved", Domain: " Location ", Time: mustTime(t, "2020-01-01")})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.Domain != "location" {
		t.Errorf("domain = %q, want %q", e.Domain, "location")
	}
}

func TestAppend_OutOfOrderTimesStaySorted(t *testing.T) {
	log := NewLog()

	// Historical fact asserted after a later one.
	if _, err := log.Append(Event{Subject: "alice", Action: "promoted", Time: mustTime(t, "2022-01-01")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := log.Append(Event{Subject: "alice", Action: "hired", Time: mustTime(t, "2020-01-01")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	snap := log.Snapshot()
	if snap[0].Action != "hired" || snap[1].Action != "promoted" {
		t.Errorf("snapshot order = %s, %s; want hired, promoted", snap[0].Action, snap[1].Action)
	}
}

func TestAppend_EqualTimesOrderedBySeq(t *testing.T) {
	log := NewLog()
	when := mustTime(t, "2020-01-01")

	first, _ := log.Append(Event{Subject: "alice", Action: "a", Time: when})
	second, _ := log.Append(Event{Subject: "alice", Action: "b", Time: when})

	snap := log.Snapshot()
	if snap[0].Seq != first.Seq || snap[1].Seq != second.Seq {
		t.Errorf("equal-time events not ordered by seq: %d, %d", snap[0].Seq, snap[1].Seq)
	}
}

func TestIterBetween_BoundsAndIndependence(t *testing.T) {
	log := NewLog()
	for _, raw := range []string{"2019-01-01", "2020-01-01", "2021-01-01", "2022-01-01"} {
		if _, err := log.Append(Event{Subject: "alice", Action: "tick", Time: mustTime(t, raw)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	from := mustTime(t, "2020-01-01")
	to := mustTime(t, "2021-01-01")
	c1 := log.IterBetween(&from, &to)
	c2 := log.IterBetween(&from, &to)

	// Advance c1 fully; c2 must be unaffected.
	count := 0
	for _, ok := c1.Next(); ok; _, ok = c1.Next() {
		count++
	}
	if count != 2 {
		t.Errorf("cursor yielded %d events, want 2 (inclusive bounds)", count)
	}
	if c2.Remaining() != 2 {
		t.Errorf("second cursor remaining = %d, want 2", c2.Remaining())
	}

	// Cursors are snapshots: a later append is invisible to them.
	if _, err := log.Append(Event{Subject: "alice", Action: "tick", Time: mustTime(t, "2020-06-01")}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	c2.Reset()
	count = 0
	for _, ok := c2.Next(); ok; _, ok = c2.Next() {
		count++
	}
	if count != 2 {
		t.Errorf("snapshot cursor saw %d events after append, want 2", count)
	}
}

func TestIterBetween_OpenBounds(t *testing.T) {
	log := NewLog()
	for _, raw := range []string{"2019-01-01", "2020-01-01", "2021-01-01"} {
		if _, err := log.Append(Event{Subject: "alice", Action: "tick", Time: mustTime(t, raw)}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	if got := log.IterBetween(nil, nil).Remaining(); got != 3 {
		t.Errorf("open cursor remaining = %d, want 3", got)
	}
	to := mustTime(t, "2019-06-01")
	if got := log.IterBetween(nil, &to).Remaining(); got != 1 {
		t.Errorf("to-bounded cursor remaining = %d, want 1", got)
	}
}

func TestTrimOldest(t *testing.T) {
	log := NewLog()
	for _, raw := range []string{"2019-01-01", "2020-01-01", "2021-01-01"} {
		if _, err := log.Append(Event{
			Subject: "alice", Action: "moved", Domain: "location",
			Object: fact.String(raw), Time: mustTime(t, raw),
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	trimmed := log.TrimOldest(2)
	if len(trimmed) != 2 {
		t.Fatalf("TrimOldest returned %d events, want 2", len(trimmed))
	}
	if trimmed[0].Time.String() != "2019-01-01" || trimmed[1].Time.String() != "2020-01-01" {
		t.Errorf("trimmed wrong events: %v, %v", trimmed[0].Time, trimmed[1].Time)
	}
	if log.Len() != 1 {
		t.Errorf("log retained %d events, want 1", log.Len())
	}
}
