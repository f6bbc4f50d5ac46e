package temporal

import (
	"errors"
	"testing"
	"time"
)

func TestParse_InfersGranularity(t *testing.T) {
	cases := []struct {
		raw  string
		gran Granularity
	}{
		{"2020", Year},
		{"2020-06", Month},
		{"2020-06-15", Day},
		{"2020-06-15T09", Hour},
		{"2020-06-15T09:30", Minute},
		{"2020-06-15T09:30:45", Second},
		{"2020-06-15T09:30:45.123", Millisecond},
		{"2020-06-15T09:30:45Z", Second},
		{"2020-06-15T09:30:45+02:00", Second},
		{"2020-06-15T09:30:45.123Z", Millisecond},
		{"2020-06-15T09:30:45.7", Millisecond},
		{"2020-06-15 09:30:45", Second},
	}

	for _, tc := range cases {
		tp, err := Parse(tc.raw)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.raw, err)
			continue
		}
		if tp.Granularity != tc.gran {
			t.Errorf("Parse(%q) granularity = %v, want %v", tc.raw, tp.Granularity, tc.gran)
		}
	}
}

// A zone-suffixed second-precision timestamp must fuzzy-compare equal
// to millisecond events inside the same second.
func TestParse_ZonedSecondComparesFuzzy(t *testing.T) {
	sec, err := Parse("2021-01-02T15:04:05Z")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if sec.Granularity != Second {
		t.Fatalf("granularity = %v, want Second", sec.Granularity)
	}

	ms, err := Parse("2021-01-02T15:04:05.750Z")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if ms.Granularity != Millisecond {
		t.Fatalf("granularity = %v, want Millisecond", ms.Granularity)
	}

	if got := Compare(sec, ms, true); got != 0 {
		t.Errorf("fuzzy Compare = %d, want 0", got)
	}
	if got := Compare(sec, ms, false); got >= 0 {
		t.Errorf("exact Compare = %d, want < 0", got)
	}
}

func TestParse_EpochMillis(t *testing.T) {
	tp, err := Parse("1592213445123")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if tp.Instant != 1592213445123 {
		t.Errorf("instant = %d, want 1592213445123", tp.Instant)
	}
	if tp.Granularity != Millisecond {
		t.Errorf("granularity = %v, want Millisecond", tp.Granularity)
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-time", "2020-13-40", "last tuesday"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidTimeInput) {
			t.Errorf("Parse(%q) error = %v, want ErrInvalidTimeInput", raw, err)
		}
	}
}

func TestString_RoundTrips(t *testing.T) {
	for _, raw := range []string{"2020", "2020-06", "2020-06-15", "2020-06-15T09:30", "2020-06-15T09:30:45.123"} {
		tp, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", raw, err)
		}
		again, err := Parse(tp.String())
		if err != nil {
			t.Fatalf("re-Parse(%q) failed: %v", tp.String(), err)
		}
		if again != tp {
			t.Errorf("round trip of %q: got %+v, want %+v", raw, again, tp)
		}
	}
}

func TestTruncate_CalendarBoundaries(t *testing.T) {
	tp, _ := Parse("2020-06-15T09:30:45.123")

	year := tp.Truncate(Year)
	if got := year.Time(); !got.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Truncate(Year) = %v", got)
	}

	month := tp.Truncate(Month)
	if got := month.Time(); !got.Equal(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Truncate(Month) = %v", got)
	}

	day := tp.Truncate(Day)
	if got := day.Time(); !got.Equal(time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Truncate(Day) = %v", got)
	}
}

func TestCompare_Exact(t *testing.T) {
	a, _ := Parse("2020-06-15T09:30:45.123")
	b, _ := Parse("2020-06-15T09:30:45.124")

	if got := Compare(a, b, false); got != -1 {
		t.Errorf("Compare(a, b, exact) = %d, want -1", got)
	}
	if got := Compare(b, a, false); got != 1 {
		t.Errorf("Compare(b, a, exact) = %d, want 1", got)
	}
	if got := Compare(a, a, false); got != 0 {
		t.Errorf("Compare(a, a, exact) = %d, want 0", got)
	}
}

func TestCompare_FuzzyCoarserWins(t *testing.T) {
	year, _ := Parse("2020")
	precise, _ := Parse("2020-06-15T09:30:45.123")

	// Exactly, the year point (Jan 1) precedes the June timestamp.
	if got := Compare(year, precise, false); got != -1 {
		t.Errorf("exact Compare = %d, want -1", got)
	}
	// Fuzzily, both truncate to 2020 and compare equal.
	if got := Compare(year, precise, true); got != 0 {
		t.Errorf("fuzzy Compare = %d, want 0", got)
	}

	later, _ := Parse("2021-02-01")
	if got := Compare(precise, later, true); got != -1 {
		t.Errorf("fuzzy Compare across years = %d, want -1", got)
	}
}

func TestBeforeAfter(t *testing.T) {
	a, _ := Parse("2020-01-01")
	b, _ := Parse("2022-01-01")

	if !a.Before(b, false) {
		t.Error("a.Before(b) = false, want true")
	}
	if !b.After(a, true) {
		t.Error("b.After(a, fuzzy) = false, want true")
	}
}
