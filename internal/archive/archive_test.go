package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cold.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(t *testing.T, id, subject, action string, object fact.Value, domain, when string, seq int64) eventlog.Event {
	t.Helper()
	tp, err := temporal.Parse(when)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", when, err)
	}
	return eventlog.Event{
		ID: id, Seq: seq, Subject: subject, Action: action,
		Object: object, Domain: domain, Time: tp,
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestWriteEvents_RoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	events := []eventlog.Event{
		testEvent(t, "ev-1", "alice", "hired", fact.String("intern"), "role", "2020-01-01", 1),
		testEvent(t, "ev-2", "alice", "scored", fact.Int(99), "", "2020-06", 2),
		testEvent(t, "ev-3", "alice", "left", nil, "role", "2021-01-01", 3),
	}
	if err := s.WriteEvents(ctx, events); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	got, err := s.EventsForSubject(ctx, "alice", nil)
	if err != nil {
		t.Fatalf("EventsForSubject failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	for i, e := range got {
		want := events[i]
		if e.ID != want.ID || e.Seq != want.Seq || e.Subject != want.Subject ||
			e.Action != want.Action || e.Domain != want.Domain ||
			!fact.Equal(e.Object, want.Object) || e.Time != want.Time {
			t.Errorf("event %d: got %+v, want %+v", i, e, want)
		}
	}
}

func TestWriteEvents_Idempotent(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	batch := []eventlog.Event{
		testEvent(t, "ev-1", "alice", "hired", fact.String("intern"), "role", "2020-01-01", 1),
	}
	for i := 0; i < 2; i++ {
		if err := s.WriteEvents(ctx, batch); err != nil {
			t.Fatalf("WriteEvents iteration %d failed: %v", i, err)
		}
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("archived %d events, want 1 (idempotent writes)", n)
	}
}

func TestEventsForSubject_UntilBound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.WriteEvents(ctx, []eventlog.Event{
		testEvent(t, "ev-1", "alice", "moved", fact.String("London"), "location", "2019-01-01", 1),
		testEvent(t, "ev-2", "alice", "moved", fact.String("Paris"), "location", "2020-08-01", 2),
		testEvent(t, "ev-3", "alice", "moved", fact.String("Tokyo"), "location", "2022-01-01", 3),
	}); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	// A year-granularity bound must include finer events inside 2020.
	until, err := temporal.Parse("2020")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := s.EventsForSubject(ctx, "alice", &until)
	if err != nil {
		t.Fatalf("EventsForSubject failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d events, want 2 (2019 and 2020-08)", len(got))
	}
}

func TestEventsForSubject_UnknownSubjectIsEmpty(t *testing.T) {
	s := openTemp(t)

	got, err := s.EventsForSubject(context.Background(), "nobody", nil)
	if err != nil {
		t.Fatalf("EventsForSubject failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d events, want 0", len(got))
	}
}

func TestEventsForDomain(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if err := s.WriteEvents(ctx, []eventlog.Event{
		testEvent(t, "ev-1", "alice", "moved", fact.String("London"), "location", "2019-01-01", 1),
		testEvent(t, "ev-2", "bob", "hired", fact.String("intern"), "role", "2020-01-01", 2),
	}); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}

	got, err := s.EventsForDomain(ctx, "location")
	if err != nil {
		t.Fatalf("EventsForDomain failed: %v", err)
	}
	if len(got) != 1 || got[0].Subject != "alice" {
		t.Errorf("unexpected domain events: %+v", got)
	}
}

func TestMaxSeq(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	seq, err := s.MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq on empty archive failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty archive MaxSeq = %d, want 0", seq)
	}

	if err := s.WriteEvents(ctx, []eventlog.Event{
		testEvent(t, "ev-1", "alice", "hired", fact.String("intern"), "role", "2020-01-01", 7),
	}); err != nil {
		t.Fatalf("WriteEvents failed: %v", err)
	}
	seq, err = s.MaxSeq(ctx)
	if err != nil {
		t.Fatalf("MaxSeq failed: %v", err)
	}
	if seq != 7 {
		t.Errorf("MaxSeq = %d, want 7", seq)
	}
}

func TestClosedStore_ReportsUnavailable(t *testing.T) {
	s := openTemp(t)
	s.Close()

	_, err := s.EventsForSubject(context.Background(), "alice", nil)
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("error = %v, want ErrArchiveUnavailable", err)
	}
}

// A corrupt stored object literal is an archive failure, not a caller
// input error.
func TestCorruptObjectLiteral_ReportsUnavailable(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO events
		(id, seq, subject, action, object, domain, instant, granularity)
		VALUES ('ev-bad', 1, 'alice', 'hired', '"unterminated', 'role', 1577836800000, 3)
	`); err != nil {
		t.Fatalf("insert corrupt row failed: %v", err)
	}

	_, err := s.EventsForSubject(ctx, "alice", nil)
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("error = %v, want ErrArchiveUnavailable", err)
	}
	if errors.Is(err, fact.ErrBadLiteral) {
		t.Errorf("error = %v, must not surface as a literal parse error", err)
	}
}
