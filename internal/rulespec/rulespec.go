// Package rulespec compiles CUE rule packs into fluent rule
// declarations.
//
// A rule pack declares domains and the effects actions have on them:
//
//	domain: {
//		role:  {exclusive: true}
//		knows: {exclusive: false}
//	}
//
//	rule: {
//		hired:    {domain: "role", effect: "initiates"}
//		promoted: {domain: "role", effect: "initiates"}
//		fired:    {domain: "role", effect: "terminates"}
//	}
//
// A rule may omit exclusive declarations for its domain; such domains
// default to accumulating.
package rulespec

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/chronofact-dev/chronofact/internal/rules"
)

// DomainDecl is a compiled domain declaration.
type DomainDecl struct {
	Name      string
	Exclusive bool
}

// Pack is a compiled rule pack: domain declarations plus rules, each in
// declaration order.
type Pack struct {
	Domains []DomainDecl
	Rules   []rules.Rule
}

// Apply registers the pack's declarations into a rule table: domains
// first so exclusivity is fixed before any rule binds to it.
func (p *Pack) Apply(table *rules.Table) error {
	for _, d := range p.Domains {
		if err := table.SetExclusive(d.Name, d.Exclusive); err != nil {
			return fmt.Errorf("domain %s: %w", d.Name, err)
		}
	}
	for _, r := range p.Rules {
		exclusive, _ := table.Exclusive(rules.NormalizeDomain(r.Domain))
		if err := table.Register(r.Action, r.Domain, exclusive, r.Effect); err != nil {
			return fmt.Errorf("rule %s: %w", r.Action, err)
		}
	}
	return nil
}

// Compile parses a CUE value into a rule pack. Uses the CUE SDK's Go
// API directly, not a CLI subprocess.
func Compile(v cue.Value) (*Pack, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	pack := &Pack{}

	domainsVal := v.LookupPath(cue.ParsePath("domain"))
	if domainsVal.Exists() {
		iter, err := domainsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			decl, err := compileDomain(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			pack.Domains = append(pack.Domains, decl)
		}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if rulesVal.Exists() {
		iter, err := rulesVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			rule, err := compileRule(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			pack.Rules = append(pack.Rules, rule)
		}
	}

	if len(pack.Domains) == 0 && len(pack.Rules) == 0 {
		return nil, &CompileError{
			Field:   "rule",
			Message: "pack declares no domains and no rules",
			Pos:     v.Pos(),
		}
	}
	return pack, nil
}

func compileDomain(name string, v cue.Value) (DomainDecl, error) {
	decl := DomainDecl{Name: name}

	exclVal := v.LookupPath(cue.ParsePath("exclusive"))
	if !exclVal.Exists() {
		return decl, &CompileError{
			Field:   fmt.Sprintf("domain.%s.exclusive", name),
			Message: "exclusive is required",
			Pos:     v.Pos(),
		}
	}
	exclusive, err := exclVal.Bool()
	if err != nil {
		return decl, formatCUEError(err)
	}
	decl.Exclusive = exclusive
	return decl, nil
}

func compileRule(action string, v cue.Value) (rules.Rule, error) {
	rule := rules.Rule{Action: action}

	domainVal := v.LookupPath(cue.ParsePath("domain"))
	if !domainVal.Exists() {
		return rule, &CompileError{
			Field:   fmt.Sprintf("rule.%s.domain", action),
			Message: "domain is required",
			Pos:     v.Pos(),
		}
	}
	domain, err := domainVal.String()
	if err != nil {
		return rule, formatCUEError(err)
	}
	rule.Domain = domain

	effectVal := v.LookupPath(cue.ParsePath("effect"))
	if !effectVal.Exists() {
		return rule, &CompileError{
			Field:   fmt.Sprintf("rule.%s.effect", action),
			Message: "effect is required",
			Pos:     v.Pos(),
		}
	}
	effectStr, err := effectVal.String()
	if err != nil {
		return rule, formatCUEError(err)
	}
	effect, err := rules.ParseEffect(effectStr)
	if err != nil {
		return rule, &CompileError{
			Field:   fmt.Sprintf("rule.%s.effect", action),
			Message: fmt.Sprintf("unknown effect %q (want initiates or terminates)", effectStr),
			Pos:     effectVal.Pos(),
		}
	}
	rule.Effect = effect
	return rule, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	if positions := cueerrors.Positions(firstErr); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
