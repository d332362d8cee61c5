// Package timefmt handles the date patterns used in row keys and sample
// windows, and the calendar units used to step between generated rows.
//
// Patterns are written the way the metadata files and configs write them
// (yyyyMMddHHmm) and are restricted to prefixes of yyyyMMddHHmmss, so every
// formatted value is zero-padded, fixed-width and sorts chronologically.
package timefmt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPattern = errors.New("invalid date pattern")
	ErrInvalidUnit    = errors.New("invalid date unit")
)

// Unit is a calendar granularity.
type Unit int

const (
	Year Unit = iota + 1
	Month
	Day
	Hour
	Minute
	Second
)

// Full is the finest supported pattern.
const Full = "yyyyMMddHHmmss"

var fields = []struct {
	token  string
	layout string
	unit   Unit
}{
	{"yyyy", "2006", Year},
	{"MM", "01", Month},
	{"dd", "02", Day},
	{"HH", "15", Hour},
	{"mm", "04", Minute},
	{"ss", "05", Second},
}

// ParseUnit parses a single pattern token such as "dd" or "HH".
func ParseUnit(token string) (Unit, error) {
	for _, f := range fields {
		if f.token == token {
			return f.unit, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidUnit, token)
}

func (u Unit) String() string {
	if u >= Year && u <= Second {
		return fields[u-1].token
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// Add moves t by n units. Year, month and day steps follow the calendar.
func (u Unit) Add(t time.Time, n int) time.Time {
	switch u {
	case Year:
		return t.AddDate(n, 0, 0)
	case Month:
		return t.AddDate(0, n, 0)
	case Day:
		return t.AddDate(0, 0, n)
	case Hour:
		return t.Add(time.Duration(n) * time.Hour)
	case Minute:
		return t.Add(time.Duration(n) * time.Minute)
	case Second:
		return t.Add(time.Duration(n) * time.Second)
	}
	return t
}

// Truncate drops every field finer than u, in t's location.
func (u Unit) Truncate(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	switch u {
	case Year:
		mo, d, h, mi, s = time.January, 1, 0, 0, 0
	case Month:
		d, h, mi, s = 1, 0, 0, 0
	case Day:
		h, mi, s = 0, 0, 0
	case Hour:
		mi, s = 0, 0
	case Minute:
		s = 0
	}
	return time.Date(y, mo, d, h, mi, s, 0, t.Location())
}

// Pattern is a validated date pattern.
type Pattern struct {
	raw    string
	layout string
	unit   Unit
}

// ParsePattern accepts "yyyy", "yyyyMM", ... up to Full.
func ParsePattern(p string) (Pattern, error) {
	rest := p
	var layout strings.Builder
	var unit Unit
	for _, f := range fields {
		if rest == "" {
			break
		}
		if !strings.HasPrefix(rest, f.token) {
			return Pattern{}, fmt.Errorf("%w: %q must be a prefix of %s", ErrInvalidPattern, p, Full)
		}
		layout.WriteString(f.layout)
		unit = f.unit
		rest = rest[len(f.token):]
	}
	if rest != "" || unit == 0 {
		return Pattern{}, fmt.Errorf("%w: %q must be a prefix of %s", ErrInvalidPattern, p, Full)
	}
	return Pattern{raw: p, layout: layout.String(), unit: unit}, nil
}

// MustParsePattern is ParsePattern for package-level values and tests.
func MustParsePattern(p string) Pattern {
	pat, err := ParsePattern(p)
	if err != nil {
		panic(err)
	}
	return pat
}

// PatternOfWidth returns the pattern whose formatted values are w bytes long.
func PatternOfWidth(w int) (Pattern, error) {
	n := 0
	for _, f := range fields {
		n += len(f.token)
		if n == w {
			return ParsePattern(Full[:n])
		}
	}
	return Pattern{}, fmt.Errorf("%w: no pattern formats to %d digits", ErrInvalidPattern, w)
}

func (p Pattern) String() string { return p.raw }
func (p Pattern) IsZero() bool   { return p.raw == "" }
func (p Pattern) Layout() string { return p.layout }

// Unit is the finest field of the pattern.
func (p Pattern) Unit() Unit { return p.unit }

// Width is the length of every formatted value.
func (p Pattern) Width() int { return len(p.layout) }

func (p Pattern) Format(t time.Time) string { return t.Format(p.layout) }

func (p Pattern) Parse(s string, loc *time.Location) (time.Time, error) {
	if len(s) != p.Width() {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s", ErrInvalidPattern, s, p.raw)
	}
	t, err := time.ParseInLocation(p.layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q does not match %s: %v", ErrInvalidPattern, s, p.raw, err)
	}
	return t, nil
}

// Truncate drops everything finer than the pattern's unit.
func (p Pattern) Truncate(t time.Time) time.Time { return p.unit.Truncate(t) }

func (p Pattern) MarshalText() ([]byte, error) { return []byte(p.raw), nil }

func (p *Pattern) UnmarshalText(b []byte) error {
	pat, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = pat
	return nil
}
