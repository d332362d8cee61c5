package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/tsfaker/faker/pkg/entity"
	"github.com/malbeclabs/tsfaker/faker/pkg/metrics"
	"github.com/malbeclabs/tsfaker/faker/pkg/plan"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/synth"
	"github.com/malbeclabs/tsfaker/faker/pkg/window"
)

type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Store       store.Client
	Planner     *plan.Builder
	Synthesizer *synth.Synthesizer
	Window      window.Window

	// Previewer receives rows when DryRun is set. Defaults to logging them.
	Previewer Previewer
	DryRun    bool

	ThreadPools int
	// MaxLimit caps the rows generated by a run; zero means no cap.
	MaxLimit      int
	ErrorContinue bool
	// AwaitTimeout bounds the wait for workers to drain; zero waits forever.
	AwaitTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight entities to stop after a
	// timeout or abort. Defaults to 5s.
	DrainTimeout time.Duration
	// WriteLimiter, if set, throttles store writes.
	WriteLimiter *rate.Limiter
	// Seed makes runs reproducible; zero picks a random seed.
	Seed uint64
	// RunID labels the run; empty generates one per Run.
	RunID string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Planner == nil {
		return errors.New("planner is required")
	}
	if cfg.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if cfg.Window.Start.IsZero() || cfg.Window.End.IsZero() {
		return errors.New("sample window is required")
	}
	if cfg.ThreadPools < 1 {
		return fmt.Errorf("thread pools must be at least 1, got %d", cfg.ThreadPools)
	}
	if cfg.MaxLimit < 0 {
		return fmt.Errorf("max limit must not be negative, got %d", cfg.MaxLimit)
	}
	if cfg.AwaitTimeout < 0 {
		return fmt.Errorf("await timeout must not be negative, got %s", cfg.AwaitTimeout)
	}
	if cfg.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative, got %s", cfg.DrainTimeout)
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Previewer == nil {
		cfg.Previewer = LogPreviewer{Logger: cfg.Logger}
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Uint64()
	}
	return nil
}

const defaultDrainTimeout = 5 * time.Second

type Engine struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{log: cfg.Logger, cfg: cfg}, nil
}

// Run generates rows for every entity and reports what happened to each.
// It always returns a summary; Summary.Err tells aborted and timed out runs
// apart from completed ones.
func (e *Engine) Run(ctx context.Context, entities []entity.Entity) *Summary {
	start := e.cfg.Clock.Now()
	id := e.cfg.RunID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		id:       id,
		now:      start,
		limit:    int64(e.cfg.MaxLimit),
		outcomes: make([]*Outcome, len(entities)),
		emitted:  make([]atomic.Int64, len(entities)),
		abortCh:  make(chan struct{}),
	}
	log := e.log.With("run_id", r.id)
	log.Info("engine: run starting",
		"entities", len(entities),
		"provider", e.cfg.Synthesizer.Provider().String(),
		"dry_run", e.cfg.DryRun,
		"thread_pools", e.cfg.ThreadPools,
		"max_limit", e.cfg.MaxLimit,
		"error_continue", e.cfg.ErrorContinue,
		"window", e.cfg.Window.String())

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var g errgroup.Group
	g.SetLimit(e.cfg.ThreadPools)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, ent := range entities {
			if r.aborted() || workCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				out := e.process(workCtx, log, r, i, ent)
				if r.record(i, out) && out.Kind == KindFailed && !e.cfg.ErrorContinue {
					if r.abort(out.Err) {
						log.Warn("engine: aborting run after entity failure", "entity_id", ent.ID, "error", out.Err)
					}
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	var timeout <-chan time.Time
	if e.cfg.AwaitTimeout > 0 {
		timeout = e.cfg.Clock.After(e.cfg.AwaitTimeout)
	}

	s := &Summary{RunID: r.id, DryRun: e.cfg.DryRun, Status: StatusCompleted}
	select {
	case <-done:
	case <-timeout:
		s.Status = StatusTimedOut
		s.Err = fmt.Errorf("%w after %s", ErrTimeout, e.cfg.AwaitTimeout)
	case <-ctx.Done():
	}
	if s.Status == StatusCompleted {
		if err := ctx.Err(); err != nil {
			s.Status = StatusAborted
			s.Err = fmt.Errorf("%w: %w", ErrAborted, err)
		} else if cause := r.abortCause(); cause != nil {
			s.Status = StatusAborted
			s.Err = fmt.Errorf("%w: %w", ErrAborted, cause)
		}
	}

	// Freeze outcomes before cancelling, so in-flight entities cut short by
	// a timeout are reported as timed out rather than as store failures.
	var cut []int
	s.Outcomes, cut = r.finalize(entities, s.Status)
	cancelWork()
	if len(cut) > 0 {
		select {
		case <-done:
		case <-e.cfg.Clock.After(e.cfg.DrainTimeout):
			log.Warn("engine: workers still running after drain timeout", "drain_timeout", e.cfg.DrainTimeout)
		}
		for _, i := range cut {
			s.Outcomes[i].Rows = int(r.emitted[i].Load())
		}
	}
	s.LimitReached = r.limitHit.Load()
	s.Elapsed = e.cfg.Clock.Since(start)
	s.count()

	metrics.RunsTotal.WithLabelValues(string(s.Status), strconv.FormatBool(s.DryRun)).Inc()
	metrics.RunDuration.Observe(s.Elapsed.Seconds())
	for _, o := range s.Outcomes {
		metrics.EntitiesTotal.WithLabelValues(string(o.Kind)).Inc()
	}

	attrs := []any{
		"status", s.Status,
		"written", s.Written,
		"previewed", s.Previewed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"rows", s.Rows,
		"limit_reached", s.LimitReached,
		"elapsed", s.Elapsed,
	}
	if s.Err != nil {
		log.Error("engine: run finished", append(attrs, "error", s.Err)...)
	} else {
		log.Info("engine: run finished", attrs...)
	}
	return s
}

func (e *Engine) process(ctx context.Context, log *slog.Logger, r *run, idx int, ent entity.Entity) Outcome {
	start := e.cfg.Clock.Now()
	defer func() {
		metrics.EntityDuration.Observe(e.cfg.Clock.Since(start).Seconds())
	}()
	log = log.With("entity_id", ent.ID)

	if r.aborted() || ctx.Err() != nil {
		return skipped(ent, ReasonAborted, ErrAborted)
	}
	if r.limitExhausted() {
		r.limitHit.Store(true)
		return skipped(ent, ReasonLimitReached, ErrLimitReached)
	}

	p, err := e.cfg.Planner.Build(ent, r.now)
	if err != nil {
		return failed(ent, 0, err)
	}

	baseline, err := e.cfg.Store.ReadBaseline(ctx, ent.Namespace, ent.Table, ent.ID, e.cfg.Window.Range())
	if err != nil {
		return failed(ent, 0, fmt.Errorf("%w: sample window: %w", store.ErrRead, err))
	}
	var refs series.Baseline
	if p.NeedsReferences() {
		refs, err = e.cfg.Store.ReadBaseline(ctx, ent.Namespace, ent.Table, ent.ID, p.ReferenceRange)
		if err != nil {
			return failed(ent, 0, fmt.Errorf("%w: reference range: %w", store.ErrRead, err))
		}
	}

	sess := e.cfg.Synthesizer.NewSession(rand.New(rand.NewPCG(e.cfg.Seed, uint64(idx))))
	var (
		rows       int
		limitHit   bool
		columnErrs []error
		failedCols = map[string]bool{}
	)
	for _, target := range p.Targets {
		values := make(map[string]float64, len(p.Columns))
		for _, col := range p.Columns {
			v, err := col.Fn(sess, synth.Step{
				Column:     col.Name,
				Target:     target.Time,
				Baseline:   baseline[col.Name],
				Reference:  target.Reference,
				References: refs[col.Name],
			})
			if err != nil {
				if !failedCols[col.Name] {
					failedCols[col.Name] = true
					columnErrs = append(columnErrs, err)
					metrics.ColumnFailuresTotal.WithLabelValues(col.Name).Inc()
				}
				log.Debug("engine: column not generated", "column", col.Name, "row_key", target.Key.String(), "error", err)
				continue
			}
			values[col.Name] = v
		}
		if len(values) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			out := failed(ent, rows, err)
			out.ColumnErrors = columnErrs
			return out
		}

		if !r.reserve() {
			r.limitHit.Store(true)
			limitHit = true
			break
		}
		row := store.Row{
			Key:       target.Key,
			Namespace: ent.Namespace,
			Table:     ent.Table,
			EntityID:  ent.ID,
			Time:      target.Time,
			Values:    values,
		}
		if err := e.emit(ctx, row); err != nil {
			out := failed(ent, rows, err)
			out.ColumnErrors = columnErrs
			return out
		}
		rows++
		r.emitted[idx].Add(1)
	}

	switch {
	case rows > 0:
		kind := KindWritten
		mode := "write"
		if e.cfg.DryRun {
			kind = KindPreviewed
			mode = "dry_run"
		}
		metrics.RowsTotal.WithLabelValues(p.Provider.String(), mode).Add(float64(rows))
		if len(columnErrs) > 0 {
			log.Warn("engine: entity generated with missing columns", "rows", rows, "error", errors.Join(columnErrs...))
		}
		return Outcome{EntityID: ent.ID, Kind: kind, Rows: rows, ColumnErrors: columnErrs}
	case limitHit:
		out := skipped(ent, ReasonLimitReached, ErrLimitReached)
		out.ColumnErrors = columnErrs
		return out
	default:
		out := failed(ent, 0, errors.Join(columnErrs...))
		out.ColumnErrors = columnErrs
		return out
	}
}

func (e *Engine) emit(ctx context.Context, row store.Row) error {
	if e.cfg.DryRun {
		if err := e.cfg.Previewer.Preview(ctx, row); err != nil {
			return fmt.Errorf("preview row %s: %w", row.Key, err)
		}
		return nil
	}
	if e.cfg.WriteLimiter != nil {
		if err := e.cfg.WriteLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", store.ErrWrite, err)
		}
	}
	if err := e.cfg.Store.Write(ctx, row); err != nil {
		return fmt.Errorf("%w: row %s: %w", store.ErrWrite, row.Key, err)
	}
	return nil
}

func skipped(ent entity.Entity, reason string, err error) Outcome {
	return Outcome{EntityID: ent.ID, Kind: KindSkipped, Reason: reason, Err: err}
}

func failed(ent entity.Entity, rows int, err error) Outcome {
	return Outcome{EntityID: ent.ID, Kind: KindFailed, Rows: rows, Err: err}
}

// run is the shared state of one Run call.
type run struct {
	id  string
	now time.Time

	limit    int64
	used     atomic.Int64
	limitHit atomic.Bool

	abortOnce sync.Once
	abortCh   chan struct{}
	abortErr  error

	mu       sync.Mutex
	outcomes []*Outcome
	closed   bool
	// emitted counts the rows each entity has written or previewed so far.
	emitted []atomic.Int64
}

func (r *run) reserve() bool {
	if r.limit <= 0 {
		return true
	}
	for {
		n := r.used.Load()
		if n >= r.limit {
			return false
		}
		if r.used.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *run) limitExhausted() bool {
	return r.limit > 0 && r.used.Load() >= r.limit
}

// abort reports whether this call was the one that aborted the run.
func (r *run) abort(cause error) bool {
	first := false
	r.abortOnce.Do(func() {
		r.mu.Lock()
		r.abortErr = cause
		r.mu.Unlock()
		close(r.abortCh)
		first = true
	})
	return first
}

func (r *run) aborted() bool {
	select {
	case <-r.abortCh:
		return true
	default:
		return false
	}
}

func (r *run) abortCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortErr
}

// record stores an outcome unless the run was already finalized.
func (r *run) record(i int, out Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.outcomes[i] = &out
	return true
}

// finalize freezes the outcomes, filling in entities that never finished,
// and returns the indexes it filled in.
func (r *run) finalize(entities []entity.Entity, status Status) ([]Outcome, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	out := make([]Outcome, len(entities))
	var cut []int
	for i, o := range r.outcomes {
		switch {
		case o != nil:
			out[i] = *o
			continue
		case status == StatusTimedOut:
			out[i] = Outcome{EntityID: entities[i].ID, Kind: KindFailed, Reason: ReasonTimeout, Err: ErrTimeout}
		default:
			out[i] = skipped(entities[i], ReasonAborted, ErrAborted)
		}
		cut = append(cut, i)
	}
	return out, cut
}
