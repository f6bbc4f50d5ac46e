// Package engine ties the pieces together: the rule table, the hot
// event log, the sliding window index, and the resolver, behind one
// facade the CLI and the conformance harness drive.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/resolver"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
	"github.com/chronofact-dev/chronofact/internal/window"
)

// Engine is the single-writer fluent resolution engine.
//
// All mutations (Assert, RegisterRule, Import) serialize behind the
// writer mutex; queries read consistent snapshots and may run
// concurrently with each other. The same event history, asserted in a
// different order, resolves identically: ordering comes from event
// times and append sequence, never from wall-clock arrival.
type Engine struct {
	table    *rules.Table
	log      *eventlog.Log
	window   *window.Index
	resolver *resolver.Resolver
	logger   *slog.Logger

	mu sync.Mutex // writer lock

	clock     *eventlog.Clock
	ids       eventlog.IDGenerator
	cold      window.ColdStore
	maxEvents int
	maxSpan   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindowLimit bounds the hot window by event count. Zero (the
// default) means unbounded.
func WithWindowLimit(n int) Option {
	return func(e *Engine) { e.maxEvents = n }
}

// WithWindowSpan bounds the hot window by time span. Zero (the default)
// means unbounded.
func WithWindowSpan(d time.Duration) Option {
	return func(e *Engine) { e.maxSpan = d }
}

// WithArchive attaches a cold store for evicted events. Without one the
// window never evicts.
func WithArchive(cold window.ColdStore) Option {
	return func(e *Engine) { e.cold = cold }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock seeds the logical clock. Archive reload uses this to resume
// sequence numbering past the archived maximum.
func WithClock(c *eventlog.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator replaces the event ID generator. Tests use
// eventlog.FixedGenerator for deterministic IDs.
func WithIDGenerator(g eventlog.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// New creates an engine with an empty rule table and event log.
func New(opts ...Option) *Engine {
	e := &Engine{
		table:  rules.NewTable(),
		logger: slog.Default(),
		clock:  eventlog.NewClock(),
		ids:    eventlog.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log = eventlog.NewLog(eventlog.WithClock(e.clock), eventlog.WithIDGenerator(e.ids))

	windowOpts := []window.Option{
		window.WithLogger(e.logger),
		window.WithMaxEvents(e.maxEvents),
		window.WithMaxSpan(e.maxSpan),
	}
	if e.cold != nil {
		windowOpts = append(windowOpts, window.WithColdStore(e.cold))
	}
	e.window = window.New(e.log, e.table, windowOpts...)
	e.resolver = resolver.New(e.table, e.window)
	return e
}

// RegisterRule declares that an action initiates or terminates fluents
// in a domain, and whether the domain is exclusive. Registration is
// idempotent; redeclaring a domain with the opposite exclusivity fails.
func (e *Engine) RegisterRule(action, domain string, exclusive bool, effect rules.Effect) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.table.Register(action, domain, exclusive, effect); err != nil {
		return wrap(err, "", domain)
	}
	e.logger.Debug("rule registered",
		"action", action, "domain", domain, "exclusive", exclusive, "effect", effect.String())
	return nil
}

// DeclareDomain sets a domain's exclusivity without binding an action.
// Import uses this for domain declarations that precede any rule.
func (e *Engine) DeclareDomain(domain string, exclusive bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.table.SetExclusive(domain, exclusive); err != nil {
		return wrap(err, "", domain)
	}
	return nil
}

// Assertion is the caller-facing shape of a new event. Domain is
// optional when a rule binds the action; Object is optional for
// termination and point events.
type Assertion struct {
	Subject string
	Action  string
	Object  fact.Value
	Domain  string
	Time    temporal.TimePoint

	// ExclusiveHint fixes the domain's exclusivity when the event
	// discovers its domain inline, ahead of any rule registration. Nil
	// leaves the table untouched; a hint conflicting with the domain's
	// recorded exclusivity rejects the assertion.
	ExclusiveHint *bool
}

// Assert validates and appends an event, then lets the window observe
// it (indexing, and eviction when over bound). The stamped event is
// returned. Validation is eager: a rejected assertion appends nothing,
// though an exclusivity hint applied before the rejection stays
// recorded (it is an idempotent domain declaration, not event state).
func (e *Engine) Assert(ctx context.Context, a Assertion) (eventlog.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a.ExclusiveHint != nil {
		if a.Domain == "" {
			err := fmt.Errorf("exclusive hint without a domain: %w", eventlog.ErrMalformedEvent)
			return eventlog.Event{}, wrap(err, a.Subject, a.Domain)
		}
		if err := e.table.SetExclusive(a.Domain, *a.ExclusiveHint); err != nil {
			return eventlog.Event{}, wrap(err, a.Subject, a.Domain)
		}
	}

	stamped, err := e.log.Append(eventlog.Event{
		Subject: a.Subject,
		Action:  a.Action,
		Object:  a.Object,
		Domain:  a.Domain,
		Time:    a.Time,
	})
	if err != nil {
		return eventlog.Event{}, wrap(err, a.Subject, a.Domain)
	}
	e.window.Observe(ctx, stamped)

	e.logger.Debug("event asserted",
		"id", stamped.ID,
		"subject", stamped.Subject,
		"action", stamped.Action,
		"time", stamped.Time.String(),
		"seq", stamped.Seq,
	)
	return stamped, nil
}

// HoldsAt returns the values holding for (subject, domain) at t. An
// unknown subject or domain yields an empty set, not an error.
func (e *Engine) HoldsAt(ctx context.Context, subject, domain string, t temporal.TimePoint) ([]fact.Value, error) {
	values, err := e.resolver.HoldsAt(ctx, subject, domain, t)
	if err != nil {
		return nil, wrap(err, subject, domain)
	}
	return values, nil
}

// History returns value intervals for a subject, optionally restricted
// to one domain and to intervals overlapping [from, to].
func (e *Engine) History(ctx context.Context, subject, domain string, from, to *temporal.TimePoint) ([]resolver.HistoryEntry, error) {
	entries, err := e.resolver.History(ctx, subject, domain, from, to)
	if err != nil {
		return nil, wrap(err, subject, domain)
	}
	return entries, nil
}

// LoadWindow pre-loads archived history for queries anchored at t,
// optionally restricted to specific subjects.
func (e *Engine) LoadWindow(ctx context.Context, t temporal.TimePoint, subjects ...string) error {
	if err := e.window.LoadWindow(ctx, t, subjects...); err != nil {
		return wrap(err, "", "")
	}
	return nil
}

// Rules returns the registered rules, sorted.
func (e *Engine) Rules() []rules.Rule {
	return e.table.Snapshot()
}

// Domains returns the known domains, sorted.
func (e *Engine) Domains() []string {
	return e.table.Domains()
}

// WindowStats summarizes the sliding window for diagnostics.
func (e *Engine) WindowStats() window.Stats {
	return e.window.Snapshot()
}

// Export writes the full state - domain declarations, rules, and every
// event hot or archived - as the textual event-trace format. A
// subsequent Import of the output reconstructs an engine that answers
// every query identically.
func (e *Engine) Export(ctx context.Context, w io.Writer) error {
	events, err := e.window.AllEvents(ctx)
	if err != nil {
		return wrap(err, "", "")
	}

	h := eventlog.Header{Rules: e.table.Snapshot()}
	for _, d := range e.table.Domains() {
		exclusive, _ := e.table.Exclusive(d)
		h.Domains = append(h.Domains, eventlog.DomainDecl{Name: d, Exclusive: exclusive})
	}

	if err := eventlog.Export(w, h, events); err != nil {
		return wrap(err, "", "")
	}
	e.logger.Debug("exported state", "events", len(events), "rules", len(h.Rules))
	return nil
}

// Import reads an exported trace and replays it into the engine:
// domains first, then rules, then events in line order. Sequence
// numbers are reassigned on append; the export format orders events by
// (time, seq), so relative order - and therefore every resolution - is
// preserved.
func (e *Engine) Import(ctx context.Context, r io.Reader) error {
	h, events, err := eventlog.Import(r)
	if err != nil {
		return wrap(err, "", "")
	}

	for _, d := range h.Domains {
		if err := e.DeclareDomain(d.Name, d.Exclusive); err != nil {
			return fmt.Errorf("import domain %s: %w", d.Name, err)
		}
	}
	for _, rl := range h.Rules {
		exclusive, _ := e.table.Exclusive(rules.NormalizeDomain(rl.Domain))
		if err := e.RegisterRule(rl.Action, rl.Domain, exclusive, rl.Effect); err != nil {
			return fmt.Errorf("import rule %s: %w", rl.Action, err)
		}
	}
	e.mu.Lock()
	for i, ev := range events {
		// Append directly so an ID carried in the trace survives; fresh
		// sequence numbers are stamped in line order.
		stamped, err := e.log.Append(ev)
		if err != nil {
			e.mu.Unlock()
			return fmt.Errorf("import event %d: %w", i+1, wrap(err, ev.Subject, ev.Domain))
		}
		e.window.Observe(ctx, stamped)
	}
	e.mu.Unlock()

	e.logger.Info("imported state",
		"domains", len(h.Domains), "rules", len(h.Rules), "events", len(events))
	return nil
}
