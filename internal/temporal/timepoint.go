// Package temporal normalizes heterogeneous time representations into
// comparable points with an explicit granularity tag.
//
// Events in a fact log are recorded at whatever precision the source
// offered: a year ("2020"), a calendar date, or a full timestamp. Two
// points recorded at different precisions cannot be compared instant to
// instant without inventing precision that was never asserted. Fuzzy
// comparison therefore truncates both points to the coarser of the two
// granularities before ordering them.
package temporal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeInput indicates a raw time value that no instant could be
// derived from (unrecognized layout, non-numeric epoch, out of range).
var ErrInvalidTimeInput = errors.New("invalid time input")

// Granularity tags the precision a TimePoint was recorded at.
// Lower values are coarser.
type Granularity int

const (
	Year Granularity = iota + 1
	Month
	Day
	Hour
	Minute
	Second
	Millisecond
)

// String returns the lowercase name of the granularity.
func (g Granularity) String() string {
	switch g {
	case Year:
		return "year"
	case Month:
		return "month"
	case Day:
		return "day"
	case Hour:
		return "hour"
	case Minute:
		return "minute"
	case Second:
		return "second"
	case Millisecond:
		return "millisecond"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Coarser returns the coarser of two granularities.
func Coarser(a, b Granularity) Granularity {
	if a < b {
		return a
	}
	return b
}

// TimePoint is an instant in epoch milliseconds (UTC) paired with the
// granularity it was recorded at. The zero TimePoint is invalid; use
// Parse or FromTime to construct one.
type TimePoint struct {
	Instant     int64       `json:"instant"`
	Granularity Granularity `json:"granularity"`
}

// layouts maps input shapes to the granularity they imply, most precise
// first so prefix layouts don't shadow longer ones. Second-tagged
// layouts also match inputs with a fractional-seconds part (the parser
// accepts a fraction the layout does not name); Parse corrects those to
// Millisecond by inspecting the input.
var layouts = []struct {
	layout string
	gran   Granularity
}{
	{"2006-01-02T15:04:05", Second},
	{"2006-01-02 15:04:05", Second},
	{"2006-01-02T15:04", Minute},
	{"2006-01-02 15:04", Minute},
	{"2006-01-02T15", Hour},
	{"2006-01-02 15", Hour},
	{"2006-01-02", Day},
	{"2006-01", Month},
	{"2006", Year},
}

// Parse derives a TimePoint from an already-disambiguated calendar or
// timestamp string, inferring granularity from the input's precision.
// A bare integer is taken as epoch milliseconds at millisecond
// granularity. Relative-date and locale heuristics are a caller's
// responsibility; Parse only accepts resolved forms.
func Parse(raw string) (TimePoint, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return TimePoint{}, fmt.Errorf("parse time %q: %w", raw, ErrInvalidTimeInput)
	}

	// Zone-suffixed RFC 3339 forms share one layout whether or not the
	// input carries fractional seconds, so the granularity comes from
	// the input itself, not the layout that matched.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return FromTime(t, secondOrFiner(s)), nil
	}

	for _, l := range layouts {
		t, err := time.ParseInLocation(l.layout, s, time.UTC)
		if err != nil {
			continue
		}
		g := l.gran
		if g == Second {
			g = secondOrFiner(s)
		}
		return FromTime(t, g), nil
	}

	// Epoch milliseconds. Length check keeps "2006"-style years from
	// being swallowed here; those match the Year layout above.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return TimePoint{Instant: ms, Granularity: Millisecond}, nil
	}

	return TimePoint{}, fmt.Errorf("parse time %q: %w", raw, ErrInvalidTimeInput)
}

// secondOrFiner tags inputs carrying a fractional-seconds component as
// Millisecond and all others as Second. The accepted layouts use '.'
// nowhere else, so a contains check is enough.
func secondOrFiner(s string) Granularity {
	if strings.Contains(s, ".") {
		return Millisecond
	}
	return Second
}

// FromTime builds a TimePoint from a time.Time at the given granularity.
// The instant is truncated to the granularity boundary so that equal
// points compare equal regardless of sub-granularity noise in t.
func FromTime(t time.Time, g Granularity) TimePoint {
	tp := TimePoint{Instant: t.UTC().UnixMilli(), Granularity: g}
	return tp.Truncate(g)
}

// Time returns the instant as a UTC time.Time.
func (tp TimePoint) Time() time.Time {
	return time.UnixMilli(tp.Instant).UTC()
}

// IsZero reports whether the point is the invalid zero value.
func (tp TimePoint) IsZero() bool {
	return tp.Granularity == 0
}

// Truncate returns the point snapped to the calendar boundary of g.
// Truncation is calendar-aware in UTC: months have uneven lengths, so
// the boundary cannot be computed by modular arithmetic on the instant.
func (tp TimePoint) Truncate(g Granularity) TimePoint {
	t := tp.Time()
	switch g {
	case Year:
		t = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case Month:
		t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Day:
		t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Hour:
		t = t.Truncate(time.Hour)
	case Minute:
		t = t.Truncate(time.Minute)
	case Second:
		t = t.Truncate(time.Second)
	case Millisecond:
		t = t.Truncate(time.Millisecond)
	}
	return TimePoint{Instant: t.UnixMilli(), Granularity: g}
}

// Next returns the start of the following granularity bucket: the
// smallest instant strictly after every moment tp's bucket covers.
// Useful as an exclusive upper bound when over-fetching events that a
// fuzzy comparison will re-check.
func (tp TimePoint) Next() TimePoint {
	t := tp.Truncate(tp.Granularity).Time()
	switch tp.Granularity {
	case Year:
		t = t.AddDate(1, 0, 0)
	case Month:
		t = t.AddDate(0, 1, 0)
	case Day:
		t = t.AddDate(0, 0, 1)
	case Hour:
		t = t.Add(time.Hour)
	case Minute:
		t = t.Add(time.Minute)
	case Second:
		t = t.Add(time.Second)
	default:
		t = t.Add(time.Millisecond)
	}
	return TimePoint{Instant: t.UnixMilli(), Granularity: tp.Granularity}
}

// Compare orders two points. With fuzzy=false the comparison is exact by
// instant. With fuzzy=true both points are first truncated to the coarser
// of the two granularities, so a millisecond-precision event inside 2020
// compares equal to the year-precision point "2020".
// Returns -1, 0, or +1.
func Compare(a, b TimePoint, fuzzy bool) int {
	x, y := a.Instant, b.Instant
	if fuzzy {
		g := Coarser(a.Granularity, b.Granularity)
		x = a.Truncate(g).Instant
		y = b.Truncate(g).Instant
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// Before reports whether a precedes b under the given comparison mode.
func (tp TimePoint) Before(other TimePoint, fuzzy bool) bool {
	return Compare(tp, other, fuzzy) < 0
}

// After reports whether a follows b under the given comparison mode.
func (tp TimePoint) After(other TimePoint, fuzzy bool) bool {
	return Compare(tp, other, fuzzy) > 0
}

// formatLayouts renders a point at its own granularity so that a
// formatted point re-parses to an identical TimePoint.
var formatLayouts = map[Granularity]string{
	Year:        "2006",
	Month:       "2006-01",
	Day:         "2006-01-02",
	Hour:        "2006-01-02T15",
	Minute:      "2006-01-02T15:04",
	Second:      "2006-01-02T15:04:05",
	Millisecond: "2006-01-02T15:04:05.000",
}

// String formats the point at its recorded granularity. Parse(String())
// is the identity for any valid TimePoint.
func (tp TimePoint) String() string {
	layout, ok := formatLayouts[tp.Granularity]
	if !ok {
		layout = formatLayouts[Millisecond]
	}
	return tp.Time().Format(layout)
}
