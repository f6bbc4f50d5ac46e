// Package fact defines the constrained value types that fluent objects
// may carry, plus the textual encoding used by the export format.
package fact

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface over the types a fluent object may hold.
// Only String, Int, and Bool implement it. Floats are excluded: the
// export format is text and must round-trip to identical values.
type Value interface {
	factValue() // sealed
}

// String is a text value.
type String string

func (String) factValue() {}

// Int is an integer value. Always int64, never float.
type Int int64

func (Int) factValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) factValue() {}

// Equal reports whether two values are the same type and content.
// Two nil values are equal; nil never equals a non-nil value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// Render encodes a value for the export format: strings are
// double-quoted with backslash escaping, ints and bools are bare.
// A nil value renders as the empty string (absent object).
func Render(v Value) string {
	switch val := v.(type) {
	case nil:
		return ""
	case String:
		return strconv.Quote(string(val))
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Bool:
		return strconv.FormatBool(bool(val))
	default:
		// Unreachable while the interface stays sealed.
		return fmt.Sprintf("%v", v)
	}
}

// ErrBadLiteral indicates text that does not decode to any Value.
var ErrBadLiteral = errors.New("malformed value literal")

// ParseLiteral decodes a Render-encoded value. The empty string decodes
// to a nil Value (absent object).
func ParseLiteral(s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, nil
	case s == "true":
		return Bool(true), nil
	case s == "false":
		return Bool(false), nil
	case strings.HasPrefix(s, `"`):
		unq, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("parse literal %q: %w", s, ErrBadLiteral)
		}
		return String(unq), nil
	default:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse literal %q: %w", s, ErrBadLiteral)
		}
		return Int(n), nil
	}
}
