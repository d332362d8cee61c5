package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
)

const (
	DefaultPattern = "yyyyMMddHHmm"
	// Default bounds in calendar days before now, in the window location.
	DefaultStartDays = -2
	DefaultEndDays   = -1
)

var ErrInvalidRange = errors.New("invalid sample window")

// Params describes the sample window. Leaving both dates empty selects the
// defaults relative to now; otherwise both dates are required.
type Params struct {
	StartDate string
	EndDate   string
	Pattern   timefmt.Pattern
	Location  *time.Location
}

// Window is the resolved historical range baselines are read from.
type Window struct {
	Start   time.Time
	End     time.Time
	pattern timefmt.Pattern
}

func Resolve(p Params, now time.Time) (Window, error) {
	pattern := p.Pattern
	if pattern.IsZero() {
		pattern = timefmt.MustParsePattern(DefaultPattern)
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	var w Window
	switch {
	case p.StartDate == "" && p.EndDate == "":
		now = now.In(loc)
		w = Window{
			Start: now.AddDate(0, 0, DefaultStartDays).Truncate(time.Minute),
			End:   now.AddDate(0, 0, DefaultEndDays).Truncate(time.Minute),
		}
	case p.StartDate == "" || p.EndDate == "":
		return Window{}, fmt.Errorf("%w: startDate and endDate must be set together", ErrInvalidRange)
	default:
		start, err := pattern.Parse(p.StartDate, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: startDate: %v", ErrInvalidRange, err)
		}
		end, err := pattern.Parse(p.EndDate, loc)
		if err != nil {
			return Window{}, fmt.Errorf("%w: endDate: %v", ErrInvalidRange, err)
		}
		w = Window{Start: start, End: end}
	}

	if w.Start.After(w.End) {
		return Window{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			pattern.Format(w.Start), pattern.Format(w.End))
	}
	w.pattern = pattern
	return w, nil
}

func (w Window) StartDate() string { return w.pattern.Format(w.Start) }
func (w Window) EndDate() string   { return w.pattern.Format(w.End) }

func (w Window) Range() series.Range {
	return series.Range{Start: w.Start, End: w.End}
}

func (w Window) String() string {
	return w.StartDate() + ".." + w.EndDate()
}
