package fact

import (
	"errors"
	"testing"
)

func TestRenderParse_RoundTrip(t *testing.T) {
	values := []Value{
		String("intern"),
		String(`with "quotes" and \backslash`),
		String(""),
		Int(42),
		Int(-7),
		Bool(true),
		Bool(false),
		nil,
	}

	for _, v := range values {
		got, err := ParseLiteral(Render(v))
		if err != nil {
			t.Errorf("ParseLiteral(Render(%#v)) failed: %v", v, err)
			continue
		}
		if !Equal(got, v) {
			t.Errorf("round trip of %#v: got %#v", v, got)
		}
	}
}

func TestParseLiteral_Malformed(t *testing.T) {
	for _, s := range []string{`"unterminated`, "12.5", "atom"} {
		if _, err := ParseLiteral(s); !errors.Is(err, ErrBadLiteral) {
			t.Errorf("ParseLiteral(%q) error = %v, want ErrBadLiteral", s, err)
		}
	}
}

func TestEqual(t *testing.T) {
	if !Equal(nil, nil) {
		t.Error("Equal(nil, nil) = false")
	}
	if Equal(String("a"), nil) {
		t.Error("Equal(value, nil) = true")
	}
	if Equal(String("1"), Int(1)) {
		t.Error("Equal across types = true")
	}
	if !Equal(Int(1), Int(1)) {
		t.Error("Equal(Int(1), Int(1)) = false")
	}
}
