// Package harness executes conformance scenarios against the resolution
// engine. A scenario installs a rule pack, records a list of events,
// and then asserts holds-at and history resolutions. Each run also
// exports the engine's trace, which golden-file tests compare byte for
// byte; event IDs come from a fixed generator so the trace is
// reproducible.
package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/chronofact-dev/chronofact/internal/engine"
	"github.com/chronofact-dev/chronofact/internal/eventlog"
	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every check matched.
	Pass bool

	// Errors lists check failures. Empty when Pass is true.
	Errors []string

	// Trace is the engine's exported state after the run, the input to
	// golden comparison.
	Trace []byte
}

func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}

// Run executes a scenario on a fresh engine and evaluates its checks.
// A returned error means the scenario itself could not be executed
// (bad rule, unparseable event); check mismatches land in the Result.
func Run(scenario *Scenario) (*Result, error) {
	ids := make([]string, len(scenario.Events))
	for i := range ids {
		ids[i] = fmt.Sprintf("evt-%03d", i+1)
	}
	eng := engine.New(
		engine.WithIDGenerator(eventlog.NewFixedGenerator(ids...)),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	exclusive := make(map[string]bool, len(scenario.Domains))
	for _, d := range scenario.Domains {
		if err := eng.DeclareDomain(d.Name, d.Exclusive); err != nil {
			return nil, fmt.Errorf("declare domain %s: %w", d.Name, err)
		}
		exclusive[rules.NormalizeDomain(d.Name)] = d.Exclusive
	}
	for i, r := range scenario.Rules {
		effect, err := rules.ParseEffect(r.Effect)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		excl := exclusive[rules.NormalizeDomain(r.Domain)]
		if err := eng.RegisterRule(r.Action, r.Domain, excl, effect); err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
	}

	ctx := context.Background()
	for i, step := range scenario.Events {
		a, err := buildAssertion(step)
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		if _, err := eng.Assert(ctx, a); err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	result := &Result{Pass: true}
	for i, check := range scenario.Checks {
		evaluateCheck(ctx, eng, i, check, result)
	}

	var buf bytes.Buffer
	if err := eng.Export(ctx, &buf); err != nil {
		return nil, fmt.Errorf("export trace: %w", err)
	}
	result.Trace = buf.Bytes()
	return result, nil
}

func buildAssertion(step EventStep) (engine.Assertion, error) {
	tp, err := temporal.Parse(step.At)
	if err != nil {
		return engine.Assertion{}, err
	}
	a := engine.Assertion{
		Subject: step.Subject,
		Action:  step.Action,
		Domain:  step.Domain,
		Time:    tp,
	}
	if step.Object != "" {
		v, err := parseValue(step.Object)
		if err != nil {
			return engine.Assertion{}, err
		}
		a.Object = v
	}
	return a, nil
}

// parseValue decodes a scenario value the way the CLI does: ints,
// bools, and quoted strings per the trace format, with bare words read
// as plain strings so scenario files need no double quoting.
func parseValue(s string) (fact.Value, error) {
	v, err := fact.ParseLiteral(s)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, fact.ErrBadLiteral) && !strings.HasPrefix(strings.TrimSpace(s), `"`) {
		return fact.String(s), nil
	}
	return nil, err
}

func evaluateCheck(ctx context.Context, eng *engine.Engine, idx int, c Check, result *Result) {
	switch c.Type {
	case CheckHoldsAt:
		evaluateHoldsAt(ctx, eng, idx, c, result)
	case CheckHistory:
		evaluateHistory(ctx, eng, idx, c, result)
	default:
		result.addError("checks[%d]: unknown check type %q", idx, c.Type)
	}
}

func evaluateHoldsAt(ctx context.Context, eng *engine.Engine, idx int, c Check, result *Result) {
	tp, err := temporal.Parse(c.At)
	if err != nil {
		result.addError("checks[%d]: bad time %q: %v", idx, c.At, err)
		return
	}
	values, err := eng.HoldsAt(ctx, c.Subject, c.Domain, tp)
	if err != nil {
		result.addError("checks[%d]: holds_at %s/%s: %v", idx, c.Subject, c.Domain, err)
		return
	}

	got := make([]string, len(values))
	for i, v := range values {
		got[i] = fact.Render(v)
	}
	want := make([]string, len(c.Holds))
	for i, raw := range c.Holds {
		v, err := parseValue(raw)
		if err != nil {
			result.addError("checks[%d]: bad expected value %q: %v", idx, raw, err)
			return
		}
		want[i] = fact.Render(v)
	}
	sort.Strings(got)
	sort.Strings(want)

	if !equalStrings(got, want) {
		result.addError("checks[%d]: holds_at %s/%s at %s: got %v, want %v",
			idx, c.Subject, c.Domain, c.At, got, want)
	}
}

func evaluateHistory(ctx context.Context, eng *engine.Engine, idx int, c Check, result *Result) {
	from, err := optionalTime(c.From)
	if err != nil {
		result.addError("checks[%d]: bad from %q: %v", idx, c.From, err)
		return
	}
	to, err := optionalTime(c.To)
	if err != nil {
		result.addError("checks[%d]: bad to %q: %v", idx, c.To, err)
		return
	}

	entries, err := eng.History(ctx, c.Subject, c.Domain, from, to)
	if err != nil {
		result.addError("checks[%d]: history %s/%s: %v", idx, c.Subject, c.Domain, err)
		return
	}
	if len(entries) != len(c.Entries) {
		result.addError("checks[%d]: history %s/%s: got %d intervals, want %d",
			idx, c.Subject, c.Domain, len(entries), len(c.Entries))
		return
	}

	for j, want := range c.Entries {
		got := entries[j]

		wantVal, err := parseValue(want.Value)
		if err != nil {
			result.addError("checks[%d].entries[%d]: bad expected value %q: %v", idx, j, want.Value, err)
			return
		}
		if !fact.Equal(got.Value, wantVal) {
			result.addError("checks[%d].entries[%d]: got value %s, want %s",
				idx, j, fact.Render(got.Value), fact.Render(wantVal))
		}

		wantStart, err := temporal.Parse(want.Start)
		if err != nil {
			result.addError("checks[%d].entries[%d]: bad start %q: %v", idx, j, want.Start, err)
			return
		}
		if got.Interval.Start.String() != wantStart.String() {
			result.addError("checks[%d].entries[%d]: got start %s, want %s",
				idx, j, got.Interval.Start, wantStart)
		}

		gotEnd := ""
		if got.Interval.End != nil {
			gotEnd = got.Interval.End.String()
		}
		wantEnd := ""
		if want.End != "" {
			tp, err := temporal.Parse(want.End)
			if err != nil {
				result.addError("checks[%d].entries[%d]: bad end %q: %v", idx, j, want.End, err)
				return
			}
			wantEnd = tp.String()
		}
		if gotEnd != wantEnd {
			result.addError("checks[%d].entries[%d]: got end %q, want %q", idx, j, gotEnd, wantEnd)
		}
	}
}

func optionalTime(s string) (*temporal.TimePoint, error) {
	if s == "" {
		return nil, nil
	}
	tp, err := temporal.Parse(s)
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
