package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// logSource adapts an in-memory log for resolver tests, bypassing the
// sliding window.
type logSource struct {
	log *eventlog.Log
}

func (s logSource) EventsForSubject(_ context.Context, subject string, until *temporal.TimePoint) ([]eventlog.Event, error) {
	var out []eventlog.Event
	for _, e := range s.log.Snapshot() {
		if e.Subject != subject {
			continue
		}
		if until != nil && temporal.Compare(e.Time, *until, true) > 0 {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type fixture struct {
	t        *testing.T
	log      *eventlog.Log
	table    *rules.Table
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := eventlog.NewLog()
	table := rules.NewTable()
	return &fixture{
		t:        t,
		log:      log,
		table:    table,
		resolver: New(table, logSource{log: log}),
	}
}

func (f *fixture) rule(action, domain string, exclusive bool, effect rules.Effect) {
	f.t.Helper()
	require.NoError(f.t, f.table.Register(action, domain, exclusive, effect))
}

func (f *fixture) event(subject, action string, object fact.Value, when string) {
	f.t.Helper()
	tp, err := temporal.Parse(when)
	require.NoError(f.t, err)
	_, err = f.log.Append(eventlog.Event{Subject: subject, Action: action, Object: object, Time: tp})
	require.NoError(f.t, err)
}

func (f *fixture) holdsAt(subject, domain, when string) []fact.Value {
	f.t.Helper()
	tp, err := temporal.Parse(when)
	require.NoError(f.t, err)
	values, err := f.resolver.HoldsAt(context.Background(), subject, domain, tp)
	require.NoError(f.t, err)
	return values
}

func TestHoldsAt_ExclusiveDomain(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)
	f.rule("promoted", "role", true, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-01-01")
	f.event("alice", "promoted", fact.String("senior"), "2022-01-01")

	assert.Equal(t, []fact.Value{fact.String("intern")}, f.holdsAt("alice", "role", "2021-06-01"))
	assert.Equal(t, []fact.Value{fact.String("senior")}, f.holdsAt("alice", "role", "2023-01-01"))
	assert.Empty(t, f.holdsAt("alice", "role", "2019-01-01"))

	// At the instant of the new assertion the old value is already gone.
	assert.Equal(t, []fact.Value{fact.String("senior")}, f.holdsAt("alice", "role", "2022-01-01"))
}

func TestHoldsAt_ExclusivityInvariant(t *testing.T) {
	f := newFixture(t)
	f.rule("moved", "location", true, rules.Initiates)

	f.event("alice", "moved", fact.String("London"), "2019-03-01")
	f.event("alice", "moved", fact.String("Paris"), "2020-06-01")
	f.event("alice", "moved", fact.String("Tokyo"), "2021-09-01")

	for _, when := range []string{"2019-03-01", "2019-12-31", "2020-06-01", "2021-01-01", "2021-09-01", "2025-01-01"} {
		values := f.holdsAt("alice", "location", when)
		assert.LessOrEqual(t, len(values), 1, "exclusive domain held %d values at %s", len(values), when)
	}
	assert.Equal(t, []fact.Value{fact.String("Tokyo")}, f.holdsAt("alice", "location", "2025-01-01"))
}

func TestHoldsAt_AccumulatingDomain(t *testing.T) {
	f := newFixture(t)
	f.rule("learned", "knows", false, rules.Initiates)

	f.event("alice", "learned", fact.String("Python"), "2018-01-01")
	f.event("alice", "learned", fact.String("Rust"), "2021-01-01")

	assert.Equal(t, []fact.Value{fact.String("Python")}, f.holdsAt("alice", "knows", "2019-01-01"))
	assert.ElementsMatch(t,
		[]fact.Value{fact.String("Python"), fact.String("Rust")},
		f.holdsAt("alice", "knows", "2021-01-01"))
}

func TestHoldsAt_MonotonicWithoutTermination(t *testing.T) {
	f := newFixture(t)
	f.rule("learned", "knows", false, rules.Initiates)
	f.event("alice", "learned", fact.String("Python"), "2018-01-01")

	for _, when := range []string{"2018-01-01", "2019-01-01", "2030-01-01", "2100-01-01"} {
		assert.Contains(t, f.holdsAt("alice", "knows", when), fact.String("Python"), "at %s", when)
	}
}

func TestHoldsAt_DuplicateInitiationIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.rule("learned", "knows", false, rules.Initiates)

	f.event("alice", "learned", fact.String("Python"), "2018-01-01")
	f.event("alice", "learned", fact.String("Python"), "2020-01-01")

	values := f.holdsAt("alice", "knows", "2021-01-01")
	assert.Len(t, values, 1)
}

func TestHoldsAt_TerminationClosesExactlyOne(t *testing.T) {
	f := newFixture(t)
	f.rule("learned", "knows", false, rules.Initiates)
	f.rule("forgot", "knows", false, rules.Terminates)

	f.event("alice", "learned", fact.String("Python"), "2018-01-01")
	f.event("alice", "learned", fact.String("Rust"), "2019-01-01")
	f.event("alice", "forgot", fact.String("Python"), "2020-01-01")

	assert.ElementsMatch(t,
		[]fact.Value{fact.String("Python"), fact.String("Rust")},
		f.holdsAt("alice", "knows", "2019-06-01"))
	assert.Equal(t, []fact.Value{fact.String("Rust")}, f.holdsAt("alice", "knows", "2020-01-01"))
	assert.Equal(t, []fact.Value{fact.String("Rust")}, f.holdsAt("alice", "knows", "2024-01-01"))
}

func TestHoldsAt_WildcardTerminationClosesAll(t *testing.T) {
	f := newFixture(t)
	f.rule("assigned", "project", false, rules.Initiates)
	f.rule("left-company", "project", false, rules.Terminates)

	f.event("alice", "assigned", fact.String("atlas"), "2019-01-01")
	f.event("alice", "assigned", fact.String("borealis"), "2020-01-01")
	f.event("alice", "left-company", nil, "2021-01-01") // no object: clear the domain

	assert.Len(t, f.holdsAt("alice", "project", "2020-06-01"), 2)
	assert.Empty(t, f.holdsAt("alice", "project", "2021-01-01"))
	assert.Empty(t, f.holdsAt("alice", "project", "2030-01-01"))
}

func TestHoldsAt_UnknownSubjectOrDomainIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)
	f.event("alice", "hired", fact.String("intern"), "2020-01-01")

	assert.Empty(t, f.holdsAt("nobody", "role", "2021-01-01"))
	assert.Empty(t, f.holdsAt("alice", "shoe-size", "2021-01-01"))
}

func TestHoldsAt_FuzzyGranularity(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)

	// Year-precision fact vs day-precision query: the fact was only
	// asserted "sometime in 2020", so it already holds anywhere in 2020.
	f.event("alice", "hired", fact.String("intern"), "2020")

	assert.Equal(t, []fact.Value{fact.String("intern")}, f.holdsAt("alice", "role", "2020-06-15"))
	assert.Equal(t, []fact.Value{fact.String("intern")}, f.holdsAt("alice", "role", "2021-01-01"))
	assert.Empty(t, f.holdsAt("alice", "role", "2019-12-31"))
}

func TestHoldsAt_CoarseQueryIncludesFinerEvents(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-06-15T09:30")

	// Query at year precision: the June event falls inside 2020.
	assert.Equal(t, []fact.Value{fact.String("intern")}, f.holdsAt("alice", "role", "2020"))
}

func TestHoldsAt_EqualTimesBreakTiesBySeq(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-01-01")
	f.event("alice", "hired", fact.String("contractor"), "2020-01-01")

	// Appended second wins under exclusive replay.
	assert.Equal(t, []fact.Value{fact.String("contractor")}, f.holdsAt("alice", "role", "2020-01-01"))
}

func TestHoldsAt_InlineDomainDiscovery(t *testing.T) {
	f := newFixture(t)

	// No rule registered for "spotted": the event's inline domain makes
	// it an implicit initiation.
	tp, err := temporal.Parse("2020-01-01")
	require.NoError(t, err)
	_, err = f.log.Append(eventlog.Event{
		Subject: "alice", Action: "spotted", Object: fact.String("Berlin"),
		Domain: "Location", Time: tp,
	})
	require.NoError(t, err)

	assert.Equal(t, []fact.Value{fact.String("Berlin")}, f.holdsAt("alice", "location", "2020-06-01"))
}

func TestHistory_OrderedIntervals(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)
	f.rule("promoted", "role", true, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-01-01")
	f.event("alice", "promoted", fact.String("senior"), "2022-01-01")

	entries, err := f.resolver.History(context.Background(), "alice", "role", nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, fact.String("intern"), entries[0].Value)
	require.NotNil(t, entries[0].Interval.End)
	assert.Equal(t, "2022-01-01", entries[0].Interval.End.String())

	assert.Equal(t, fact.String("senior"), entries[1].Value)
	assert.Nil(t, entries[1].Interval.End)
}

func TestHistory_AllDomains(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)
	f.rule("learned", "knows", false, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-01-01")
	f.event("alice", "learned", fact.String("Rust"), "2021-01-01")

	entries, err := f.resolver.History(context.Background(), "alice", "", nil, nil)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHistory_RangeFilter(t *testing.T) {
	f := newFixture(t)
	f.rule("moved", "location", true, rules.Initiates)

	f.event("alice", "moved", fact.String("London"), "2018-01-01")
	f.event("alice", "moved", fact.String("Paris"), "2020-01-01")
	f.event("alice", "moved", fact.String("Tokyo"), "2022-01-01")

	from, err := temporal.Parse("2019-01-01")
	require.NoError(t, err)
	to, err := temporal.Parse("2021-01-01")
	require.NoError(t, err)

	entries, err := f.resolver.History(context.Background(), "alice", "location", &from, &to)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, fact.String("London"), entries[0].Value)
	assert.Equal(t, fact.String("Paris"), entries[1].Value)
}

func TestHoldsAt_PointEventsHaveNoEffect(t *testing.T) {
	f := newFixture(t)
	f.rule("hired", "role", true, rules.Initiates)

	f.event("alice", "hired", fact.String("intern"), "2020-01-01")
	f.event("alice", "sneezed", nil, "2020-06-01") // no rule, no domain

	assert.Equal(t, []fact.Value{fact.String("intern")}, f.holdsAt("alice", "role", "2021-01-01"))
}
