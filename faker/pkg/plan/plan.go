package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/entity"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/synth"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
)

var ErrUnreachableReference = errors.New("unreachable cumulative reference")

type BuilderConfig struct {
	Codec       *rowkey.Codec
	KeyPattern  timefmt.Pattern
	Synthesizer *synth.Synthesizer
	Columns     []string

	// Unit and Amount place generated rows: target i is Amount*i units
	// after now, truncated to the key pattern.
	Unit   timefmt.Unit
	Amount int
	Steps  int

	// Offset is the (negative) number of units between a target and its
	// cumulative reference value.
	Offset int
}

func (cfg *BuilderConfig) Validate() error {
	if cfg.Codec == nil {
		return errors.New("row key codec is required")
	}
	if cfg.KeyPattern.IsZero() {
		return errors.New("row key pattern is required")
	}
	if cfg.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if len(cfg.Columns) == 0 {
		return errors.New("at least one column is required")
	}
	if cfg.Unit < timefmt.Year || cfg.Unit > timefmt.Second {
		return fmt.Errorf("invalid generator unit %v", cfg.Unit)
	}
	if cfg.Amount < 1 {
		return fmt.Errorf("generator amount must be at least 1, got %d", cfg.Amount)
	}
	if cfg.Steps == 0 {
		cfg.Steps = 1
	}
	if cfg.Steps < 0 {
		return fmt.Errorf("steps must be positive, got %d", cfg.Steps)
	}
	if cfg.Synthesizer.Provider() == synth.Cumulative {
		if cfg.Offset >= 0 {
			return fmt.Errorf("cumulative offset must be negative, got %d", cfg.Offset)
		}
		if err := CheckReferences(cfg.Amount, cfg.Steps, cfg.Offset); err != nil {
			return err
		}
	}
	return nil
}

// CheckReferences verifies that every target's reference range [at-1, at],
// measured in units from now, either reaches back to now or holds an
// earlier target of the same run. Targets sit at multiples of amount.
func CheckReferences(amount, steps, offset int) error {
	for i := 1; i <= steps; i++ {
		at := amount*i + offset
		switch {
		case at-1 <= 0:
		case at%amount == 0, (at-1)%amount == 0:
		default:
			return fmt.Errorf("%w: step %d of %d references %d units after now, between generated rows (amount %d, offset %d)",
				ErrUnreachableReference, i, steps, at, amount, offset)
		}
	}
	return nil
}

type Builder struct {
	cfg     BuilderConfig
	columns []Column
}

func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fn := cfg.Synthesizer.Func()
	columns := make([]Column, len(cfg.Columns))
	for i, name := range cfg.Columns {
		columns[i] = Column{Name: name, Fn: fn}
	}
	return &Builder{cfg: cfg, columns: columns}, nil
}

// Column binds a column name to the run's strategy.
type Column struct {
	Name string
	Fn   synth.Func
}

// Target is one row to generate.
type Target struct {
	Time time.Time
	Key  rowkey.RowKey
	// Reference is where the cumulative reference value is looked up.
	// Zero for simple plans.
	Reference series.Range
}

// Plan is the unit of work for one entity.
type Plan struct {
	Entity   entity.Entity
	Provider synth.Provider
	Columns  []Column
	Targets  []Target
	// ReferenceRange covers every target's Reference.
	ReferenceRange series.Range
}

// NeedsReferences reports whether the plan reads reference values.
func (p *Plan) NeedsReferences() bool {
	return p.Provider == synth.Cumulative
}

func (b *Builder) Provider() synth.Provider { return b.cfg.Synthesizer.Provider() }

func (b *Builder) Build(e entity.Entity, now time.Time) (*Plan, error) {
	cfg := b.cfg
	p := &Plan{
		Entity:   e,
		Provider: cfg.Synthesizer.Provider(),
		Columns:  b.columns,
		Targets:  make([]Target, 0, cfg.Steps),
	}

	base := cfg.KeyPattern.Truncate(now.In(cfg.Codec.Location()))
	for i := 1; i <= cfg.Steps; i++ {
		ts := cfg.Unit.Add(base, cfg.Amount*i)
		key, err := cfg.Codec.Encode(e.Namespace, e.Table, e.ID, ts, cfg.KeyPattern)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.ID, err)
		}
		t := Target{Time: ts, Key: key}
		if p.NeedsReferences() {
			at := cfg.Unit.Add(ts, cfg.Offset)
			t.Reference = series.Range{Start: cfg.Unit.Add(at, -1), End: at}
			if p.ReferenceRange.IsZero() || t.Reference.Start.Before(p.ReferenceRange.Start) {
				p.ReferenceRange.Start = t.Reference.Start
			}
			if t.Reference.End.After(p.ReferenceRange.End) {
				p.ReferenceRange.End = t.Reference.End
			}
		}
		p.Targets = append(p.Targets, t)
	}
	return p, nil
}
