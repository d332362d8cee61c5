// Package series holds historical column values read from a store.
package series

import (
	"slices"
	"time"
)

// Range is an inclusive time range.
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r Range) IsZero() bool { return r.Start.IsZero() && r.End.IsZero() }

type Sample struct {
	Time  time.Time
	Value float64
}

// Series is a column's samples, most recent first.
type Series []Sample

// Latest returns the most recent sample.
func (s Series) Latest() (Sample, bool) {
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[0], true
}

// LatestIn returns the most recent sample inside r.
func (s Series) LatestIn(r Range) (Sample, bool) {
	for _, smp := range s {
		if r.Contains(smp.Time) {
			return smp, true
		}
	}
	return Sample{}, false
}

// Baseline maps column names to their samples.
type Baseline map[string]Series

// Add appends a sample to a column. Call Sort once all samples are in.
func (b Baseline) Add(column string, t time.Time, v float64) {
	b[column] = append(b[column], Sample{Time: t, Value: v})
}

// Sort orders every column most recent first.
func (b Baseline) Sort() {
	for _, s := range b {
		slices.SortStableFunc(s, func(x, y Sample) int { return y.Time.Compare(x.Time) })
	}
}
