// Package rules maintains the mutable registry mapping action
// identifiers to the fluent domains they affect.
//
// The table is intentionally separate from resolution: whatever
// classifies a verb (a rule pack, a heuristic, an upstream model) can
// populate the table without coupling to the replay algorithm.
package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrConflictingExclusivity indicates a domain being re-registered with a
// different exclusive flag than previously recorded. Exclusivity is fixed
// at first registration and never silently changes.
var ErrConflictingExclusivity = errors.New("conflicting exclusivity")

// ErrBadRule indicates a registration with missing or invalid fields.
var ErrBadRule = errors.New("malformed rule")

// Effect states whether an action opens or closes a fluent's validity
// interval.
type Effect int

const (
	// Initiates opens a validity interval for the event's object value.
	Initiates Effect = iota + 1
	// Terminates closes the matching open interval, or every open
	// interval when the event carries no object.
	Terminates
)

// String returns the lowercase effect name.
func (e Effect) String() string {
	switch e {
	case Initiates:
		return "initiates"
	case Terminates:
		return "terminates"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// ParseEffect decodes an effect name as used in rule packs and the
// export header.
func ParseEffect(s string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiates":
		return Initiates, nil
	case "terminates":
		return Terminates, nil
	default:
		return 0, fmt.Errorf("parse effect %q: %w", s, ErrBadRule)
	}
}

var domainFolder = cases.Fold()

// NormalizeDomain canonicalizes a fluent domain identifier: trimmed,
// Unicode case-folded, NFC-normalized. Domains differing only in case or
// normalization form are the same domain.
func NormalizeDomain(s string) string {
	return norm.NFC.String(domainFolder.String(strings.TrimSpace(s)))
}

// Binding pairs a domain with the effect an action has on it.
type Binding struct {
	Domain string
	Effect Effect
}

// Table is the fluent rule registry. An action may affect zero, one, or
// multiple domains (compound events). Safe for concurrent use.
type Table struct {
	mu        sync.RWMutex
	byAction  map[string][]Binding
	exclusive map[string]bool
}

// NewTable creates an empty rule table.
func NewTable() *Table {
	return &Table{
		byAction:  make(map[string][]Binding),
		exclusive: make(map[string]bool),
	}
}

// Register records that action affects domain with the given effect.
// Registering the identical triple twice is a no-op. Registering a
// domain with a different exclusive flag than previously recorded fails
// with ErrConflictingExclusivity, regardless of which action carried the
// earlier registration.
func (t *Table) Register(action, domain string, exclusive bool, effect Effect) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("register rule: empty action: %w", ErrBadRule)
	}
	if effect != Initiates && effect != Terminates {
		return fmt.Errorf("register rule %q: unknown effect: %w", action, ErrBadRule)
	}
	dom := NormalizeDomain(domain)
	if dom == "" {
		return fmt.Errorf("register rule %q: empty domain: %w", action, ErrBadRule)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.setExclusiveLocked(dom, exclusive); err != nil {
		return fmt.Errorf("register rule %q: %w", action, err)
	}

	for _, b := range t.byAction[action] {
		if b.Domain == dom && b.Effect == effect {
			return nil // idempotent
		}
	}
	t.byAction[action] = append(t.byAction[action], Binding{Domain: dom, Effect: effect})
	return nil
}

// SetExclusive fixes a domain's exclusivity without binding an action.
// Used when a domain is discovered at first use on an event carrying an
// exclusivity hint. Idempotent; conflicting flags fail.
func (t *Table) SetExclusive(domain string, exclusive bool) error {
	dom := NormalizeDomain(domain)
	if dom == "" {
		return fmt.Errorf("set exclusive: empty domain: %w", ErrBadRule)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setExclusiveLocked(dom, exclusive)
}

func (t *Table) setExclusiveLocked(dom string, exclusive bool) error {
	if prev, ok := t.exclusive[dom]; ok {
		if prev != exclusive {
			return fmt.Errorf("domain %q registered exclusive=%t, now %t: %w",
				dom, prev, exclusive, ErrConflictingExclusivity)
		}
		return nil
	}
	t.exclusive[dom] = exclusive
	return nil
}

// Lookup returns the bindings for an action in registration order.
// The returned slice is a copy; an unknown action yields an empty slice.
func (t *Table) Lookup(action string) []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()

	src := t.byAction[strings.TrimSpace(action)]
	out := make([]Binding, len(src))
	copy(out, src)
	return out
}

// Exclusive reports a domain's recorded exclusivity. The second result
// is false when the domain has never been registered; callers treat
// unregistered domains as accumulating.
func (t *Table) Exclusive(domain string) (exclusive, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	exclusive, known = t.exclusive[NormalizeDomain(domain)]
	return exclusive, known
}

// Domains returns every registered domain, sorted, for inspection.
func (t *Table) Domains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.exclusive))
	for d := range t.exclusive {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// EffectsFor expands an action into its (domain, effect) bindings.
// Registered rules win; an action with no rule but an inline domain on
// its event defaults to initiating that domain (discovery at first use).
// An action with neither is a point event and affects nothing.
func (t *Table) EffectsFor(action, inlineDomain string) []Binding {
	if bindings := t.Lookup(action); len(bindings) > 0 {
		return bindings
	}
	if dom := NormalizeDomain(inlineDomain); dom != "" {
		return []Binding{{Domain: dom, Effect: Initiates}}
	}
	return nil
}

// Rule is a flattened (action, binding, exclusivity) row for inspection
// and export.
type Rule struct {
	Action    string
	Domain    string
	Exclusive bool
	Effect    Effect
}

// Snapshot returns every registered rule sorted by action, then domain,
// then effect. Used by the CLI and the export header.
func (t *Table) Snapshot() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Rule
	for action, bindings := range t.byAction {
		for _, b := range bindings {
			out = append(out, Rule{
				Action:    action,
				Domain:    b.Domain,
				Exclusive: t.exclusive[b.Domain],
				Effect:    b.Effect,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Effect < out[j].Effect
	})
	return out
}
