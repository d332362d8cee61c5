package rowkey

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
)

// DefaultSeparator joins the key fields.
const DefaultSeparator = "|"

var (
	ErrInvalidKeyComponent = errors.New("invalid row key component")
	ErrInvalidLocation     = errors.New("invalid row key location")
)

// RowKey addresses one row: namespace, table, entity and formatted time,
// joined by the codec separator.
type RowKey string

func (k RowKey) String() string { return string(k) }
func (k RowKey) Bytes() []byte  { return []byte(k) }

// Key is a decoded RowKey.
type Key struct {
	Namespace string
	Table     string
	EntityID  string
	Time      time.Time
	Pattern   timefmt.Pattern
}

type Codec struct {
	sep string
	loc *time.Location
}

// NewCodec returns a codec joining fields with sep and formatting times in
// loc (UTC when nil). The separator may not contain digits, since the date
// field is all digits. loc must have a fixed UTC offset: a repeated
// fall-back hour would encode two instants to the same key.
func NewCodec(sep string, loc *time.Location) (*Codec, error) {
	if sep == "" {
		return nil, errors.New("row key separator is required")
	}
	if strings.ContainsFunc(sep, unicode.IsDigit) {
		return nil, fmt.Errorf("row key separator %q must not contain digits", sep)
	}
	if loc == nil {
		loc = time.UTC
	}
	if err := checkFixedOffset(loc, time.Now().Year()); err != nil {
		return nil, err
	}
	return &Codec{sep: sep, loc: loc}, nil
}

// checkFixedOffset compares the winter and summer offsets of loc in year and
// the year before.
func checkFixedOffset(loc *time.Location, year int) error {
	for _, y := range []int{year - 1, year} {
		_, jan := time.Date(y, time.January, 1, 0, 0, 0, 0, loc).Zone()
		_, jul := time.Date(y, time.July, 1, 0, 0, 0, 0, loc).Zone()
		if jan != jul {
			return fmt.Errorf("%w: %s observes daylight saving time (offsets %s and %s in %d)",
				ErrInvalidLocation, loc, time.Duration(jan)*time.Second, time.Duration(jul)*time.Second, y)
		}
	}
	return nil
}

func (c *Codec) Separator() string        { return c.sep }
func (c *Codec) Location() *time.Location { return c.loc }

func (c *Codec) Encode(namespace, table, entityID string, ts time.Time, pattern timefmt.Pattern) (RowKey, error) {
	if pattern.IsZero() {
		return "", fmt.Errorf("%w: date pattern is required", ErrInvalidKeyComponent)
	}
	prefix, err := c.EntityPrefix(namespace, table, entityID)
	if err != nil {
		return "", err
	}
	return RowKey(prefix + pattern.Format(ts.In(c.loc))), nil
}

// EntityPrefix is the shared prefix of every key of one entity, separator
// included, so "M1" never matches keys of "M10".
func (c *Codec) EntityPrefix(namespace, table, entityID string) (string, error) {
	for _, f := range []struct{ name, value string }{
		{"namespace", namespace},
		{"table", table},
		{"entity id", entityID},
	} {
		if f.value == "" {
			return "", fmt.Errorf("%w: %s is empty", ErrInvalidKeyComponent, f.name)
		}
		if strings.Contains(f.value, c.sep) {
			return "", fmt.Errorf("%w: %s %q contains separator %q", ErrInvalidKeyComponent, f.name, f.value, c.sep)
		}
	}
	return namespace + c.sep + table + c.sep + entityID + c.sep, nil
}

// Decode splits a key and parses its date with the pattern implied by its width.
func (c *Codec) Decode(key RowKey) (Key, error) {
	parts := strings.Split(string(key), c.sep)
	if len(parts) != 4 {
		return Key{}, fmt.Errorf("%w: %q has %d fields, want 4", ErrInvalidKeyComponent, key, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Key{}, fmt.Errorf("%w: %q has an empty field", ErrInvalidKeyComponent, key)
		}
	}
	pattern, err := timefmt.PatternOfWidth(len(parts[3]))
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKeyComponent, err)
	}
	ts, err := pattern.Parse(parts[3], c.loc)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKeyComponent, err)
	}
	return Key{
		Namespace: parts[0],
		Table:     parts[1],
		EntityID:  parts[2],
		Time:      ts,
		Pattern:   pattern,
	}, nil
}
