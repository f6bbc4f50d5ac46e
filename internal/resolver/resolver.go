// Package resolver computes which fluent values hold for a subject and
// domain at a point in time.
//
// Fluents are never stored; they are derived by replaying the relevant
// slice of the event log through the rule table. Each initiating event
// opens a validity interval, each terminating event closes one, and a
// query returns the values whose interval is still open at the query
// point. The declarative holds-at semantics become an explicit,
// imperative interval replay over a time-ordered event sequence.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// EventSource yields the time-ordered events a resolution needs.
//
// Implementations must return every event for the subject whose time is
// at or before until under fuzzy comparison (a nil until means all),
// ordered by (time, seq). The sliding window index is the production
// implementation; it may touch the cold archive, hence the context.
type EventSource interface {
	EventsForSubject(ctx context.Context, subject string, until *temporal.TimePoint) ([]eventlog.Event, error)
}

// ValidityInterval is the replay working state for one held value: open
// from Start until End, or indefinitely while End is nil. StartedBy
// carries the ID of the initiating event; the window index uses it to
// pin carried-over initiators across archival.
type ValidityInterval struct {
	Value     fact.Value
	Start     temporal.TimePoint
	End       *temporal.TimePoint
	StartedBy string
}

// openAt reports whether the interval covers t: started at or before t
// and not yet ended, or ended strictly after t. A value terminated at
// exactly t no longer holds at t.
func (iv ValidityInterval) openAt(t temporal.TimePoint) bool {
	if temporal.Compare(iv.Start, t, true) > 0 {
		return false
	}
	return iv.End == nil || temporal.Compare(*iv.End, t, true) > 0
}

// HistoryEntry pairs a value with its validity interval, as returned by
// History.
type HistoryEntry struct {
	Subject  string
	Domain   string
	Value    fact.Value
	Interval ValidityInterval
}

// Resolver answers holds-at and history queries against an event source
// and a rule table. It holds no mutable state of its own; every query
// replays from an immutable snapshot, so resolutions for different
// (subject, domain) pairs are fully independent.
type Resolver struct {
	table  *rules.Table
	source EventSource
}

// New creates a resolver over the given rule table and event source.
func New(table *rules.Table, source EventSource) *Resolver {
	return &Resolver{table: table, source: source}
}

// HoldsAt returns the set of values holding for (subject, domain) at t.
// For exclusive domains the set has at most one element by construction.
// A subject or domain with no history yields an empty set, not an error;
// the only failure mode is the event source (archive unavailability).
func (r *Resolver) HoldsAt(ctx context.Context, subject, domain string, t temporal.TimePoint) ([]fact.Value, error) {
	dom := rules.NormalizeDomain(domain)

	events, err := r.source.EventsForSubject(ctx, subject, &t)
	if err != nil {
		return nil, fmt.Errorf("holds at %s/%s: %w", subject, dom, err)
	}

	intervals := Replay(r.table, events, dom, &t)

	var values []fact.Value
	for _, iv := range intervals {
		if iv.openAt(t) {
			values = append(values, iv.Value)
		}
	}
	sortValues(values)
	return values, nil
}

// History returns the value intervals for a subject, optionally
// restricted to one domain and to intervals overlapping [from, to].
// Entries are ordered by interval start, then by append order.
func (r *Resolver) History(ctx context.Context, subject, domain string, from, to *temporal.TimePoint) ([]HistoryEntry, error) {
	dom := rules.NormalizeDomain(domain)

	events, err := r.source.EventsForSubject(ctx, subject, nil)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", subject, err)
	}

	domains := map[string]bool{}
	if dom != "" {
		domains[dom] = true
	} else {
		for _, e := range events {
			for _, b := range r.table.EffectsFor(e.Action, e.Domain) {
				domains[b.Domain] = true
			}
		}
	}

	var entries []HistoryEntry
	for d := range domains {
		for _, iv := range Replay(r.table, events, d, nil) {
			if !overlaps(iv, from, to) {
				continue
			}
			entries = append(entries, HistoryEntry{
				Subject:  subject,
				Domain:   d,
				Value:    iv.Value,
				Interval: iv,
			})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if c := temporal.Compare(entries[i].Interval.Start, entries[j].Interval.Start, false); c != 0 {
			return c < 0
		}
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		return fact.Render(entries[i].Value) < fact.Render(entries[j].Value)
	})
	return entries, nil
}

// Replay runs the interval-closure algorithm for one domain over events
// already ordered by (time, seq). With until set, events fuzzily after
// it are skipped; the source may have over-fetched at coarse
// granularities.
//
// Exclusive domains keep at most one open interval: an initiation first
// closes whatever is open at the new event's time. Accumulating domains
// open concurrent intervals, and re-initiating an already-open value is
// a no-op rather than a duplicate. A termination without a value closes
// every open interval in the domain.
func Replay(table *rules.Table, events []eventlog.Event, domain string, until *temporal.TimePoint) []ValidityInterval {
	exclusive, _ := table.Exclusive(domain)

	var intervals []ValidityInterval
	open := func() []*ValidityInterval {
		var out []*ValidityInterval
		for i := range intervals {
			if intervals[i].End == nil {
				out = append(out, &intervals[i])
			}
		}
		return out
	}

	for _, e := range events {
		if until != nil && temporal.Compare(e.Time, *until, true) > 0 {
			continue
		}
		for _, b := range table.EffectsFor(e.Action, e.Domain) {
			if b.Domain != domain {
				continue
			}
			switch b.Effect {
			case rules.Initiates:
				if e.Object == nil {
					continue // nothing to hold
				}
				if exclusive {
					end := e.Time
					for _, iv := range open() {
						iv.End = &end
					}
				} else if alreadyOpen(open(), e.Object) {
					continue
				}
				intervals = append(intervals, ValidityInterval{Value: e.Object, Start: e.Time, StartedBy: e.ID})
			case rules.Terminates:
				end := e.Time
				for _, iv := range open() {
					if e.Object == nil || fact.Equal(iv.Value, e.Object) {
						iv.End = &end
					}
				}
			}
		}
	}
	return intervals
}

func alreadyOpen(open []*ValidityInterval, v fact.Value) bool {
	for _, iv := range open {
		if fact.Equal(iv.Value, v) {
			return true
		}
	}
	return false
}

// overlaps reports whether an interval intersects the optional [from, to]
// query range.
func overlaps(iv ValidityInterval, from, to *temporal.TimePoint) bool {
	if to != nil && temporal.Compare(iv.Start, *to, true) > 0 {
		return false
	}
	if from != nil && iv.End != nil && temporal.Compare(*iv.End, *from, true) <= 0 {
		return false
	}
	return true
}

// sortValues orders a value set deterministically by rendered form.
func sortValues(values []fact.Value) {
	sort.Slice(values, func(i, j int) bool {
		return fact.Render(values[i]) < fact.Render(values[j])
	})
}
