package synth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/series"
)

var (
	ErrMissingBaseline = errors.New("missing baseline")
	ErrInvalidBounds   = errors.New("invalid growth bounds")
)

// Provider selects the synthesis strategy for a whole run.
type Provider int

const (
	Simple Provider = iota + 1
	Cumulative
)

func ParseProvider(s string) (Provider, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SIMPLE":
		return Simple, nil
	case "CUMULATIVE":
		return Cumulative, nil
	}
	return 0, fmt.Errorf("unknown provider %q (want SIMPLE or CUMULATIVE)", s)
}

func (p Provider) String() string {
	switch p {
	case Simple:
		return "SIMPLE"
	case Cumulative:
		return "CUMULATIVE"
	}
	return fmt.Sprintf("Provider(%d)", int(p))
}

// Rand is the random source a session draws growth factors from.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Bounds are the growth factor limits.
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) Validate(p Provider) error {
	if b.Min <= 0 || b.Max <= 0 {
		return fmt.Errorf("%w: percents must be positive (min=%v max=%v)", ErrInvalidBounds, b.Min, b.Max)
	}
	if b.Min > b.Max {
		return fmt.Errorf("%w: min %v is greater than max %v", ErrInvalidBounds, b.Min, b.Max)
	}
	if p == Cumulative && b.Min < 1.0 {
		return fmt.Errorf("%w: cumulative growth requires min >= 1.0, got %v", ErrInvalidBounds, b.Min)
	}
	return nil
}

// Draw returns a factor uniformly distributed in [Min, Max).
func (b Bounds) Draw(rng Rand) float64 {
	return b.Min + rng.Float64()*(b.Max-b.Min)
}

// Step is the input for one column at one generated timestamp.
type Step struct {
	Column string
	Target time.Time
	// Baseline is the column's samples from the sample window.
	Baseline series.Series
	// Reference is the cumulative reference lookup range for this step;
	// References holds the samples read for it.
	Reference  series.Range
	References series.Series
}

// Func computes one column value.
type Func func(s *Session, step Step) (float64, error)

type Synthesizer struct {
	provider Provider
	bounds   Bounds
	fn       Func
}

func New(provider Provider, bounds Bounds) (*Synthesizer, error) {
	if err := bounds.Validate(provider); err != nil {
		return nil, err
	}
	s := &Synthesizer{provider: provider, bounds: bounds}
	switch provider {
	case Simple:
		s.fn = simple
	case Cumulative:
		s.fn = cumulative
	default:
		return nil, fmt.Errorf("unknown provider %v", provider)
	}
	return s, nil
}

func (s *Synthesizer) Provider() Provider { return s.provider }
func (s *Synthesizer) Bounds() Bounds     { return s.bounds }

// Func returns the strategy for the configured provider.
func (s *Synthesizer) Func() Func { return s.fn }

// NewSession starts the state for one entity task. Sessions are not safe
// for concurrent use.
func (s *Synthesizer) NewSession(rng Rand) *Session {
	return &Session{
		bounds:    s.bounds,
		rng:       rng,
		running:   map[string]float64{},
		generated: series.Baseline{},
	}
}

// Session carries the random source and the running cumulative values of
// one entity. Generated values stay visible as references to later steps.
type Session struct {
	bounds    Bounds
	rng       Rand
	running   map[string]float64
	generated series.Baseline
}

// Running returns the last value generated for column in this session.
func (s *Session) Running(column string) (float64, bool) {
	v, ok := s.running[column]
	return v, ok
}

func simple(s *Session, step Step) (float64, error) {
	base, ok := step.Baseline.Latest()
	if !ok {
		return 0, fmt.Errorf("%w: column %s has no sampled value", ErrMissingBaseline, step.Column)
	}
	return base.Value * s.bounds.Draw(s.rng), nil
}

func cumulative(s *Session, step Step) (float64, error) {
	last, ok := s.running[step.Column]
	if !ok {
		base, found := step.Baseline.Latest()
		if !found {
			return 0, fmt.Errorf("%w: column %s has no sampled value", ErrMissingBaseline, step.Column)
		}
		last = base.Value
	}

	ref, ok := step.References.LatestIn(step.Reference)
	if gen, found := s.generated[step.Column].LatestIn(step.Reference); found && (!ok || gen.Time.After(ref.Time)) {
		ref, ok = gen, true
	}
	if !ok {
		return 0, fmt.Errorf("%w: column %s has no reference value at %s", ErrMissingBaseline,
			step.Column, step.Reference.End.Format(time.RFC3339))
	}

	// A negative reference would shrink a counter.
	inc := max(ref.Value*s.bounds.Draw(s.rng), 0)
	next := last + inc
	s.running[step.Column] = next
	s.generated[step.Column] = slices.Insert(s.generated[step.Column], 0, series.Sample{Time: step.Target, Value: next})
	return next, nil
}
