package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chronofact-dev/chronofact/internal/fact"
	"github.com/chronofact-dev/chronofact/internal/rules"
	"github.com/chronofact-dev/chronofact/internal/temporal"
)

// The export format is one fact per line:
//
//	happens(moved(alice,"Paris"), "2020-06-15"). % id=<uuid> domain=location
//
// preceded by a comment header declaring domains and rules:
//
//	% chronofact log v1
//	% domain location exclusive=true
//	% rule moved initiates location
//
// Import(Export(log)) reconstructs a log that resolves identically for
// every (subject, domain, time) triple. Sequence numbers are reassigned
// on import; the line order of the export (time, then seq) preserves
// tie-breaking.

const exportMagic = "% chronofact log v1"

// DomainDecl records a domain's exclusivity in the export header.
type DomainDecl struct {
	Name      string
	Exclusive bool
}

// Header carries the rule-table state an export needs for faithful
// re-resolution.
type Header struct {
	Domains []DomainDecl
	Rules   []rules.Rule
}

// Export writes the header and events to w. Events must already be in
// (time, seq) order, as Log.Snapshot returns them.
func Export(w io.Writer, h Header, events []Event) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintln(bw, exportMagic); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	for _, d := range h.Domains {
		if _, err := fmt.Fprintf(bw, "%% domain %s exclusive=%t\n", renderAtom(d.Name), d.Exclusive); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	for _, r := range h.Rules {
		if _, err := fmt.Fprintf(bw, "%% rule %s %s %s\n", renderAtom(r.Action), r.Effect, renderAtom(r.Domain)); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	for _, e := range events {
		if err := writeEventLine(bw, e); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

func writeEventLine(w io.Writer, e Event) error {
	var sb strings.Builder
	sb.WriteString("happens(")
	sb.WriteString(renderAtom(e.Action))
	sb.WriteByte('(')
	sb.WriteString(renderAtom(e.Subject))
	if e.Object != nil {
		sb.WriteByte(',')
		sb.WriteString(fact.Render(e.Object))
	}
	sb.WriteString(`), "`)
	sb.WriteString(e.Time.String())
	sb.WriteString(`").`)
	if e.ID != "" || e.Domain != "" {
		sb.WriteString(" %")
		if e.ID != "" {
			sb.WriteString(" id=")
			sb.WriteString(renderAtom(e.ID))
		}
		if e.Domain != "" {
			sb.WriteString(" domain=")
			sb.WriteString(renderAtom(e.Domain))
		}
	}
	sb.WriteByte('\n')

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("export event %s: %w", e.ID, err)
	}
	return nil
}

// Import parses an exported log. Returned events carry no sequence
// numbers; the caller re-appends them so its clock stamps fresh ones in
// line order.
func Import(r io.Reader) (Header, []Event, error) {
	var (
		h      Header
		events []Event
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || line == exportMagic:
			continue
		case strings.HasPrefix(line, "% domain "):
			d, err := parseDomainDecl(line)
			if err != nil {
				return Header{}, nil, fmt.Errorf("import line %d: %w", lineNo, err)
			}
			h.Domains = append(h.Domains, d)
		case strings.HasPrefix(line, "% rule "):
			rule, err := parseRuleDecl(line)
			if err != nil {
				return Header{}, nil, fmt.Errorf("import line %d: %w", lineNo, err)
			}
			h.Rules = append(h.Rules, rule)
		case strings.HasPrefix(line, "%"):
			continue // unknown comment, tolerated
		default:
			e, err := parseEventLine(line)
			if err != nil {
				return Header{}, nil, fmt.Errorf("import line %d: %w", lineNo, err)
			}
			events = append(events, e)
		}
	}
	if err := sc.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("import: %w", err)
	}
	return h, events, nil
}

func parseDomainDecl(line string) (DomainDecl, error) {
	rest := strings.TrimPrefix(line, "% domain ")
	name, i, err := readTerm(rest, 0)
	if err != nil {
		return DomainDecl{}, fmt.Errorf("domain decl: %w", err)
	}
	rest = strings.TrimSpace(rest[i:])
	excl, found := strings.CutPrefix(rest, "exclusive=")
	if !found {
		return DomainDecl{}, fmt.Errorf("domain decl missing exclusive flag: %w", ErrMalformedEvent)
	}
	b, err := strconv.ParseBool(strings.TrimSpace(excl))
	if err != nil {
		return DomainDecl{}, fmt.Errorf("domain decl bad exclusive flag: %w", ErrMalformedEvent)
	}
	return DomainDecl{Name: name, Exclusive: b}, nil
}

func parseRuleDecl(line string) (rules.Rule, error) {
	rest := strings.TrimPrefix(line, "% rule ")
	action, i, err := readTerm(rest, 0)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule decl: %w", err)
	}
	rest = strings.TrimSpace(rest[i:])

	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return rules.Rule{}, fmt.Errorf("rule decl too short: %w", ErrMalformedEvent)
	}
	effect, err := rules.ParseEffect(fields[0])
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule decl: %w", err)
	}
	domain, _, err := readTerm(strings.TrimSpace(fields[1]), 0)
	if err != nil {
		return rules.Rule{}, fmt.Errorf("rule decl: %w", err)
	}
	return rules.Rule{Action: action, Domain: domain, Effect: effect}, nil
}

// parseEventLine decodes a single happens(...) line.
func parseEventLine(line string) (Event, error) {
	body := line
	var id, domain string

	// Optional trailing "% id=... domain=..." comment after the closing
	// period. The id keeps archived copies deduplicable across imports.
	if idx := lastCommentIndex(body); idx >= 0 {
		trailer := strings.TrimSpace(body[idx+1:])
		body = strings.TrimSpace(body[:idx])
		var err error
		id, domain, err = parseEventTrailer(trailer)
		if err != nil {
			return Event{}, err
		}
	}

	rest, found := strings.CutPrefix(body, "happens(")
	if !found {
		return Event{}, fmt.Errorf("expected happens(...): %w", ErrMalformedEvent)
	}
	if !strings.HasSuffix(rest, ").") {
		return Event{}, fmt.Errorf("unterminated fact: %w", ErrMalformedEvent)
	}
	rest = rest[:len(rest)-len(").")]

	i := 0
	action, i, err := readTerm(rest, i)
	if err != nil {
		return Event{}, fmt.Errorf("event action: %w", err)
	}
	if i >= len(rest) || rest[i] != '(' {
		return Event{}, fmt.Errorf("expected ( after action: %w", ErrMalformedEvent)
	}
	i++

	subject, i, err := readTerm(rest, i)
	if err != nil {
		return Event{}, fmt.Errorf("event subject: %w", err)
	}

	var object fact.Value
	if i < len(rest) && rest[i] == ',' {
		i++
		raw, next, err := readRawTerm(rest, i)
		if err != nil {
			return Event{}, fmt.Errorf("event object: %w", err)
		}
		i = next
		object, err = fact.ParseLiteral(raw)
		if err != nil {
			return Event{}, fmt.Errorf("event object: %w", err)
		}
	}
	if i >= len(rest) || rest[i] != ')' {
		return Event{}, fmt.Errorf("expected ) after arguments: %w", ErrMalformedEvent)
	}
	i++
	if i >= len(rest) || rest[i] != ',' {
		return Event{}, fmt.Errorf("expected time argument: %w", ErrMalformedEvent)
	}
	i++
	for i < len(rest) && rest[i] == ' ' {
		i++
	}
	rawTime, i, err := readRawTerm(rest, i)
	if err != nil {
		return Event{}, fmt.Errorf("event time: %w", err)
	}
	if i != len(rest) {
		return Event{}, fmt.Errorf("trailing characters after time: %w", ErrMalformedEvent)
	}
	unq, err := strconv.Unquote(rawTime)
	if err != nil {
		return Event{}, fmt.Errorf("event time not quoted: %w", ErrMalformedEvent)
	}
	tp, err := temporal.Parse(unq)
	if err != nil {
		return Event{}, err
	}

	return Event{
		ID:      id,
		Subject: subject,
		Action:  action,
		Object:  object,
		Domain:  domain,
		Time:    tp,
	}, nil
}

// parseEventTrailer decodes the key=value pairs of an event's trailing
// comment. Values may be quoted, so the scan is term-aware rather than
// a split on spaces.
func parseEventTrailer(trailer string) (id, domain string, err error) {
	i := 0
	for i < len(trailer) {
		for i < len(trailer) && trailer[i] == ' ' {
			i++
		}
		if i >= len(trailer) {
			break
		}
		eq := strings.IndexByte(trailer[i:], '=')
		if eq < 0 {
			return "", "", fmt.Errorf("bad event trailer %q: %w", trailer, ErrMalformedEvent)
		}
		key := trailer[i : i+eq]
		i += eq + 1
		val, next, err := readTerm(trailer, i)
		if err != nil {
			return "", "", fmt.Errorf("event trailer: %w", err)
		}
		i = next
		switch key {
		case "id":
			id = val
		case "domain":
			domain = val
		default:
			return "", "", fmt.Errorf("unknown event trailer key %q: %w", key, ErrMalformedEvent)
		}
	}
	return id, domain, nil
}

// lastCommentIndex finds the '%' starting a trailing comment, ignoring
// any '%' inside double-quoted strings.
func lastCommentIndex(s string) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '%':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

// isAtom reports whether s can be rendered without quoting.
func isAtom(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}

// renderAtom writes s bare when atom-safe, double-quoted otherwise.
func renderAtom(s string) string {
	if isAtom(s) {
		return s
	}
	return strconv.Quote(s)
}

// readTerm reads an atom or quoted string starting at i and returns its
// decoded value and the index past it.
func readTerm(s string, i int) (string, int, error) {
	raw, next, err := readRawTerm(s, i)
	if err != nil {
		return "", 0, err
	}
	if strings.HasPrefix(raw, `"`) {
		unq, err := strconv.Unquote(raw)
		if err != nil {
			return "", 0, fmt.Errorf("bad quoted term %q: %w", raw, ErrMalformedEvent)
		}
		return unq, next, nil
	}
	return raw, next, nil
}

// readRawTerm reads the raw text of an atom, number, or quoted string
// starting at i, stopping at a delimiter outside quotes.
func readRawTerm(s string, i int) (string, int, error) {
	if i >= len(s) {
		return "", 0, fmt.Errorf("unexpected end of term: %w", ErrMalformedEvent)
	}
	start := i
	if s[i] == '"' {
		i++
		for i < len(s) {
			switch s[i] {
			case '\\':
				i += 2
				continue
			case '"':
				return s[start : i+1], i + 1, nil
			}
			i++
		}
		return "", 0, fmt.Errorf("unterminated quoted term: %w", ErrMalformedEvent)
	}
	for i < len(s) {
		c := s[i]
		if c == '(' || c == ')' || c == ',' || c == ' ' {
			break
		}
		i++
	}
	if i == start {
		return "", 0, fmt.Errorf("empty term: %w", ErrMalformedEvent)
	}
	return s[start:i], i, nil
}
