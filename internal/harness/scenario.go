package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// Scenario defines a conformance scenario: the rule pack to install, the
// events to record, and the resolutions expected afterwards.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Domains declares fluent domains and their exclusivity up front.
	// Domains used only through inline event domains may be omitted.
	Domains []DomainDecl `yaml:"domains,omitempty"`

	// Rules binds actions to domains, mirroring the rule-pack format.
	Rules []RuleDecl `yaml:"rules,omitempty"`

	// Events are recorded in order; sequence numbers follow list order,
	// so same-instant tie-breaking is under the scenario's control.
	Events []EventStep `yaml:"events"`

	// Checks are evaluated after every event has been recorded.
	Checks []Check `yaml:"checks"`
}

// DomainDecl declares a fluent domain for the scenario.
type DomainDecl struct {
	Name      string `yaml:"name"`
	Exclusive bool   `yaml:"exclusive"`
}

// RuleDecl binds an action to a domain with an effect name
// ("initiates" or "terminates").
type RuleDecl struct {
	Action string `yaml:"action"`
	Domain string `yaml:"domain"`
	Effect string `yaml:"effect"`
}

// EventStep records one event. Object and Domain are optional: a
// terminator without an object closes every open interval, and Domain
// is only needed for inline domain discovery outside the rule table.
type EventStep struct {
	Subject string `yaml:"subject"`
	Action  string `yaml:"action"`
	Object  string `yaml:"object,omitempty"`
	Domain  string `yaml:"domain,omitempty"`
	At      string `yaml:"at"`
}

// Check asserts on the resolved state after the scenario's events.
type Check struct {
	// Type selects the check:
	//   - "holds_at": resolve (subject, domain) at a time point and
	//     compare the full value set
	//   - "history": compare the (subject, domain) interval timeline
	Type string `yaml:"type"`

	Subject string `yaml:"subject"`
	Domain  string `yaml:"domain"`

	// At is the query time for holds_at checks.
	At string `yaml:"at,omitempty"`

	// Holds lists every value expected to hold, in any order. An empty
	// list asserts that nothing holds.
	Holds []string `yaml:"holds,omitempty"`

	// From and To optionally bound a history check.
	From string `yaml:"from,omitempty"`
	To   string `yaml:"to,omitempty"`

	// Entries is the expected timeline for history checks, in interval
	// start order.
	Entries []HistoryExpect `yaml:"entries,omitempty"`
}

// HistoryExpect is one expected validity interval. An empty End means
// the interval is still open.
type HistoryExpect struct {
	Value string `yaml:"value"`
	Start string `yaml:"start"`
	End   string `yaml:"end,omitempty"`
}

// Check type constants.
const (
	CheckHoldsAt = "holds_at"
	CheckHistory = "history"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so a typo like "check:" fails loudly instead of
// silently skipping assertions.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every *.yaml file in dir, sorted by filename.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenario dir: %w", err)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks required fields before any engine work
// starts, so a malformed scenario fails with a field path rather than
// a mid-run resolution error.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Checks) == 0 {
		return fmt.Errorf("checks list is required and must be non-empty")
	}

	for i, d := range s.Domains {
		if d.Name == "" {
			return fmt.Errorf("domains[%d]: name is required", i)
		}
	}
	for i, r := range s.Rules {
		if r.Action == "" {
			return fmt.Errorf("rules[%d]: action is required", i)
		}
		if r.Domain == "" {
			return fmt.Errorf("rules[%d]: domain is required", i)
		}
		if _, err := rules.ParseEffect(r.Effect); err != nil {
			return fmt.Errorf("rules[%d]: %w", i, err)
		}
	}

	for i, step := range s.Events {
		if step.Subject == "" {
			return fmt.Errorf("events[%d]: subject is required", i)
		}
		if step.Action == "" {
			return fmt.Errorf("events[%d]: action is required", i)
		}
		if step.At == "" {
			return fmt.Errorf("events[%d]: at is required", i)
		}
		if _, err := temporal.Parse(step.At); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	for i, check := range s.Checks {
		if err := validateCheck(i, &check); err != nil {
			return err
		}
	}
	return nil
}

// validateCheck validates a single check based on its type.
func validateCheck(index int, c *Check) error {
	if c.Subject == "" {
		return fmt.Errorf("checks[%d]: subject is required", index)
	}
	if c.Domain == "" {
		return fmt.Errorf("checks[%d]: domain is required", index)
	}

	switch c.Type {
	case CheckHoldsAt:
		if c.At == "" {
			return fmt.Errorf("checks[%d]: at is required for holds_at", index)
		}
		if _, err := temporal.Parse(c.At); err != nil {
			return fmt.Errorf("checks[%d]: %w", index, err)
		}
	case CheckHistory:
		for j, e := range c.Entries {
			if e.Value == "" {
				return fmt.Errorf("checks[%d].entries[%d]: value is required", index, j)
			}
			if e.Start == "" {
				return fmt.Errorf("checks[%d].entries[%d]: start is required", index, j)
			}
		}
	default:
		return fmt.Errorf("checks[%d]: unknown check type %q", index, c.Type)
	}
	return nil
}
