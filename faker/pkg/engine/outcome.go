package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLimitReached = errors.New("row limit reached")
	ErrAborted      = errors.New("run aborted")
	ErrTimeout      = errors.New("timed out waiting for workers")
)

type Kind string

const (
	KindWritten   Kind = "written"
	KindPreviewed Kind = "dry_run_previewed"
	KindSkipped   Kind = "skipped"
	KindFailed    Kind = "failed"
)

const (
	ReasonLimitReached = "limit-reached"
	ReasonAborted      = "aborted"
	ReasonTimeout      = "timeout"
)

// Outcome is the result of one entity.
type Outcome struct {
	EntityID string
	Kind     Kind
	// Rows written or previewed for the entity. For entities cut short by
	// a timeout or abort, the rows emitted before the cut.
	Rows int
	// Reason is set for skipped entities and timeouts.
	Reason string
	Err    error
	// ColumnErrors holds the first synthesis failure of each column that
	// could not be generated.
	ColumnErrors []error
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSkipped:
		return fmt.Sprintf("%s: skipped(%s)", o.EntityID, o.Reason)
	case KindFailed:
		return fmt.Sprintf("%s: failed: %v", o.EntityID, o.Err)
	}
	return fmt.Sprintf("%s: %s (%d rows)", o.EntityID, o.Kind, o.Rows)
}

type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusTimedOut  Status = "timed_out"
)

// Summary describes a finished run.
type Summary struct {
	RunID  string
	Status Status
	DryRun bool

	Written   int
	Previewed int
	Skipped   int
	Failed    int

	// Rows may undercount when in-flight entities outlive the drain timeout.
	Rows         int
	LimitReached bool
	Outcomes     []Outcome
	Elapsed      time.Duration

	// Err is the abort cause or ErrTimeout; nil for completed runs.
	Err error
}

// Failures returns the failed outcomes.
func (s *Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Kind == KindFailed {
			out = append(out, o)
		}
	}
	return out
}

// SkippedFor returns the number of entities skipped for reason.
func (s *Summary) SkippedFor(reason string) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind == KindSkipped && o.Reason == reason {
			n++
		}
	}
	return n
}

func (s *Summary) count() {
	s.Written, s.Previewed, s.Skipped, s.Failed, s.Rows = 0, 0, 0, 0, 0
	for _, o := range s.Outcomes {
		switch o.Kind {
		case KindWritten:
			s.Written++
		case KindPreviewed:
			s.Previewed++
		case KindSkipped:
			s.Skipped++
		case KindFailed:
			s.Failed++
		}
		s.Rows += o.Rows
	}
}
