// Package window keeps resolution tractable as the event log grows.
//
// It maintains a bounded hot window over the log plus secondary indices
// (by subject, by domain, by day bucket), and moves the oldest events to
// a cold store when the window exceeds its bound. Eviction is
// index-aware rather than blind truncation: for every (subject, domain)
// pair the window pins the initiating events of intervals still open at
// the archive boundary, so queries anchored just inside the window see
// the carried-over value without touching the archive. Queries anchored
// at or before the boundary load the relevant archived slice on demand.
package window

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/resolver"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// ColdStore is the archival boundary. The SQLite archive is the
// production implementation; tests substitute in-memory or failing
// stores.
type ColdStore interface {
	WriteEvents(ctx context.Context, events []eventlog.Event) error
	EventsForSubject(ctx context.Context, subject string, until *temporal.TimePoint) ([]eventlog.Event, error)
	AllEvents(ctx context.Context) ([]eventlog.Event, error)
}

type pairKey struct {
	subject string
	domain  string
}

// Index is the sliding window over an event log.
//
// Thread-safety follows the single-writer, multiple-reader discipline:
// Observe runs on the append path behind the engine's writer; reads
// take the shared lock and never mutate index state except the load
// cache, which has its own lock.
type Index struct {
	log    *eventlog.Log
	table  *rules.Table
	cold   ColdStore
	logger *slog.Logger

	maxEvents int
	maxSpan   time.Duration

	mu           sync.RWMutex
	bySubject    map[string][]eventlog.Event
	byDomain     map[string][]eventlog.Event
	byBucket     map[int64]int // day bucket (epoch millis at UTC midnight) -> count
	pinned       map[pairKey][]eventlog.Event
	archivedSubs map[string]bool
	boundary     temporal.TimePoint // newest archived event time
	haveArchived bool

	loadMu sync.Mutex
	loaded map[string][]eventlog.Event // per-subject cold cache
}

// Option configures an Index.
type Option func(*Index)

// WithMaxEvents bounds the hot window by event count. Zero means
// unbounded.
func WithMaxEvents(n int) Option {
	return func(ix *Index) { ix.maxEvents = n }
}

// WithMaxSpan bounds the hot window by time span relative to the newest
// hot event. Zero means unbounded.
func WithMaxSpan(d time.Duration) Option {
	return func(ix *Index) { ix.maxSpan = d }
}

// WithColdStore attaches the archive. Without one the window never
// evicts, regardless of bounds.
func WithColdStore(cold ColdStore) Option {
	return func(ix *Index) { ix.cold = cold }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// New creates a window over the given log and rule table.
func New(log *eventlog.Log, table *rules.Table, opts ...Option) *Index {
	ix := &Index{
		log:          log,
		table:        table,
		logger:       slog.Default(),
		bySubject:    make(map[string][]eventlog.Event),
		byDomain:     make(map[string][]eventlog.Event),
		byBucket:     make(map[int64]int),
		pinned:       make(map[pairKey][]eventlog.Event),
		archivedSubs: make(map[string]bool),
		loaded:       make(map[string][]eventlog.Event),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Observe indexes a freshly appended event and evicts if the window
// exceeds its bounds. Called on the append path, after Log.Append.
//
// Archival failure does not fail the append: the events simply stay hot
// and eviction retries on the next observe. Nothing is ever discarded.
func (ix *Index) Observe(ctx context.Context, e eventlog.Event) {
	ix.mu.Lock()
	ix.indexLocked(e)
	ix.mu.Unlock()

	ix.evict(ctx)
}

func (ix *Index) indexLocked(e eventlog.Event) {
	ix.bySubject[e.Subject] = insertOrdered(ix.bySubject[e.Subject], e)
	for _, b := range ix.table.EffectsFor(e.Action, e.Domain) {
		ix.byDomain[b.Domain] = insertOrdered(ix.byDomain[b.Domain], e)
	}
	ix.byBucket[dayBucket(e.Time)]++
}

// evict moves the oldest events to the cold store until the window fits
// its bounds again.
func (ix *Index) evict(ctx context.Context) {
	if ix.cold == nil {
		return
	}

	n := ix.evictCount()
	if n == 0 {
		return
	}

	batch := ix.log.TrimOldest(n)
	if len(batch) == 0 {
		return
	}

	if err := ix.cold.WriteEvents(ctx, batch); err != nil {
		// Put the batch back: archival is retried on the next observe,
		// and the append-only invariant forbids dropping events.
		for _, e := range batch {
			ix.log.Restore(e)
		}
		ix.logger.Warn("archive write failed, keeping events hot",
			"events", len(batch), "error", err)
		return
	}

	ix.mu.Lock()
	for _, e := range batch {
		ix.unindexLocked(e)
		ix.archivedSubs[e.Subject] = true
		if !ix.haveArchived || temporal.Compare(ix.boundary, e.Time, false) < 0 {
			ix.boundary = e.Time
			ix.haveArchived = true
		}
	}
	ix.repinLocked(batch)
	boundary := ix.boundary.String()
	ix.mu.Unlock()

	for _, e := range batch {
		ix.InvalidateLoaded(e.Subject)
	}

	ix.logger.Debug("archived events", "events", len(batch), "boundary", boundary)
}

// evictCount decides how many of the oldest events fall outside the
// configured bounds.
func (ix *Index) evictCount() int {
	n := 0
	if ix.maxEvents > 0 && ix.log.Len() > ix.maxEvents {
		n = ix.log.Len() - ix.maxEvents
	}
	if ix.maxSpan > 0 {
		if newest := ix.newestHot(); !newest.IsZero() {
			cutoff := newest.Instant - ix.maxSpan.Milliseconds()
			aged := ix.countOlderThan(cutoff)
			if aged > n {
				n = aged
			}
		}
	}
	return n
}

func (ix *Index) newestHot() temporal.TimePoint {
	snap := ix.log.Snapshot()
	if len(snap) == 0 {
		return temporal.TimePoint{}
	}
	return snap[len(snap)-1].Time
}

func (ix *Index) countOlderThan(cutoff int64) int {
	count := 0
	for _, e := range ix.log.Snapshot() {
		if e.Time.Instant >= cutoff {
			break
		}
		count++
	}
	return count
}

// unindexLocked removes an archived event from the hot indices.
func (ix *Index) unindexLocked(e eventlog.Event) {
	ix.bySubject[e.Subject] = removeByID(ix.bySubject[e.Subject], e.ID)
	if len(ix.bySubject[e.Subject]) == 0 {
		delete(ix.bySubject, e.Subject)
	}
	for _, b := range ix.table.EffectsFor(e.Action, e.Domain) {
		ix.byDomain[b.Domain] = removeByID(ix.byDomain[b.Domain], e.ID)
		if len(ix.byDomain[b.Domain]) == 0 {
			delete(ix.byDomain, b.Domain)
		}
	}
	bucket := dayBucket(e.Time)
	if ix.byBucket[bucket]--; ix.byBucket[bucket] <= 0 {
		delete(ix.byBucket, bucket)
	}
}

// repinLocked recomputes the pinned initiators for every (subject,
// domain) pair the archived batch touched. An interval still open at
// the boundary keeps its initiating event pinned in the window, so
// queries just inside the window resolve the carried-over value without
// a cold load. Intervals the batch closed lose their pin; the closed
// history lives in the archive.
func (ix *Index) repinLocked(batch []eventlog.Event) {
	pairs := make(map[pairKey][]eventlog.Event)
	for _, e := range batch {
		for _, b := range ix.table.EffectsFor(e.Action, e.Domain) {
			key := pairKey{subject: e.Subject, domain: b.Domain}
			pairs[key] = append(pairs[key], e)
		}
	}

	for key, events := range pairs {
		merged := mergeEvents(ix.pinned[key], events)
		byID := make(map[string]eventlog.Event, len(merged))
		for _, e := range merged {
			byID[e.ID] = e
		}

		var pins []eventlog.Event
		for _, iv := range resolver.Replay(ix.table, merged, key.domain, nil) {
			if iv.End != nil {
				continue
			}
			if e, ok := byID[iv.StartedBy]; ok {
				pins = append(pins, e)
			}
		}
		if len(pins) == 0 {
			delete(ix.pinned, key)
		} else {
			ix.pinned[key] = pins
		}
	}
}

// EventsForSubject implements resolver.EventSource. It serves from the
// hot window and pins when the query is anchored past the archive
// boundary, and merges in the subject's archived slice otherwise.
func (ix *Index) EventsForSubject(ctx context.Context, subject string, until *temporal.TimePoint) ([]eventlog.Event, error) {
	ix.mu.RLock()
	hot := append([]eventlog.Event(nil), ix.bySubject[subject]...)
	var pins []eventlog.Event
	for key, events := range ix.pinned {
		if key.subject == subject {
			pins = append(pins, events...)
		}
	}
	needCold := ix.archivedSubs[subject] &&
		(until == nil || temporal.Compare(*until, ix.boundary, true) <= 0)
	ix.mu.RUnlock()

	var events []eventlog.Event
	if needCold {
		coldEvents, err := ix.loadSubject(ctx, subject)
		if err != nil {
			return nil, err
		}
		// Pins are a subset of the archive; the merge dedupes by ID.
		events = mergeEvents(coldEvents, hot)
	} else {
		events = mergeEvents(pins, hot)
	}

	if until == nil {
		return events, nil
	}
	filtered := events[:0]
	for _, e := range events {
		if temporal.Compare(e.Time, *until, true) <= 0 {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// LoadWindow pre-loads the archived slices needed for queries anchored
// at t. With subjects given, only those are loaded; otherwise every
// archived subject is. Loads run concurrently and the first cold-store
// failure cancels the rest. This is the only suspending operation in
// the query path; callers should pass a cancellable context.
func (ix *Index) LoadWindow(ctx context.Context, t temporal.TimePoint, subjects ...string) error {
	if ix.cold == nil {
		return nil
	}

	ix.mu.RLock()
	needCold := ix.haveArchived && temporal.Compare(t, ix.boundary, true) <= 0
	if len(subjects) == 0 {
		for s := range ix.archivedSubs {
			subjects = append(subjects, s)
		}
	}
	ix.mu.RUnlock()
	if !needCold {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, subject := range subjects {
		g.Go(func() error {
			_, err := ix.loadSubject(gctx, subject)
			return err
		})
	}
	return g.Wait()
}

// loadSubject fetches and caches a subject's full archived history.
// Loading the whole subject rather than a time slice keeps the cache
// answer-complete for any later anchor without a second round trip.
func (ix *Index) loadSubject(ctx context.Context, subject string) ([]eventlog.Event, error) {
	ix.loadMu.Lock()
	cached, ok := ix.loaded[subject]
	ix.loadMu.Unlock()
	if ok {
		return cached, nil
	}

	events, err := ix.cold.EventsForSubject(ctx, subject, nil)
	if err != nil {
		return nil, err
	}

	ix.loadMu.Lock()
	ix.loaded[subject] = events
	ix.loadMu.Unlock()
	return events, nil
}

// InvalidateLoaded drops the cold cache. Called after new archival so
// stale per-subject slices are re-fetched.
func (ix *Index) InvalidateLoaded(subject string) {
	ix.loadMu.Lock()
	defer ix.loadMu.Unlock()
	delete(ix.loaded, subject)
}

// AllEvents returns the full history, archived plus hot, in (time, seq)
// order. Used by export.
func (ix *Index) AllEvents(ctx context.Context) ([]eventlog.Event, error) {
	hot := ix.log.Snapshot()
	if ix.cold == nil || !ix.hasArchived() {
		return hot, nil
	}
	cold, err := ix.cold.AllEvents(ctx)
	if err != nil {
		return nil, err
	}
	return mergeEvents(cold, hot), nil
}

func (ix *Index) hasArchived() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.haveArchived
}

// Subjects returns every subject with hot events, sorted.
func (ix *Index) Subjects() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]string, 0, len(ix.bySubject))
	for s := range ix.bySubject {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DomainEvents returns the hot events indexed under a domain, a copy.
func (ix *Index) DomainEvents(domain string) []eventlog.Event {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	src := ix.byDomain[rules.NormalizeDomain(domain)]
	out := make([]eventlog.Event, len(src))
	copy(out, src)
	return out
}

// Stats summarizes the window for diagnostics.
type Stats struct {
	HotEvents    int
	Subjects     int
	Domains      int
	DayBuckets   int
	PinnedEvents int
	Archived     bool
	Boundary     string
}

// Snapshot returns current window statistics.
func (ix *Index) Snapshot() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	pinned := 0
	for _, events := range ix.pinned {
		pinned += len(events)
	}
	st := Stats{
		HotEvents:    ix.log.Len(),
		Subjects:     len(ix.bySubject),
		Domains:      len(ix.byDomain),
		DayBuckets:   len(ix.byBucket),
		PinnedEvents: pinned,
		Archived:     ix.haveArchived,
	}
	if ix.haveArchived {
		st.Boundary = ix.boundary.String()
	}
	return st
}

func dayBucket(tp temporal.TimePoint) int64 {
	return tp.Truncate(temporal.Day).Instant
}

func insertOrdered(events []eventlog.Event, e eventlog.Event) []eventlog.Event {
	idx := sort.Search(len(events), func(i int) bool {
		return less(e, events[i])
	})
	events = append(events, eventlog.Event{})
	copy(events[idx+1:], events[idx:])
	events[idx] = e
	return events
}

func removeByID(events []eventlog.Event, id string) []eventlog.Event {
	for i, e := range events {
		if e.ID == id {
			return append(events[:i], events[i+1:]...)
		}
	}
	return events
}

func less(a, b eventlog.Event) bool {
	if c := temporal.Compare(a.Time, b.Time, false); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

// mergeEvents merges two (time, seq)-ordered slices, dropping duplicate
// IDs (the first occurrence wins).
func mergeEvents(a, b []eventlog.Event) []eventlog.Event {
	out := make([]eventlog.Event, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var next eventlog.Event
		switch {
		case j >= len(b):
			next = a[i]
			i++
		case i >= len(a):
			next = b[j]
			j++
		case less(b[j], a[i]):
			next = b[j]
			j++
		default:
			next = a[i]
			i++
		}
		if seen[next.ID] {
			continue
		}
		seen[next.ID] = true
		out = append(out, next)
	}
	return out
}
