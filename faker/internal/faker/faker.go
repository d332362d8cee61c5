package faker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/tsfaker/faker/pkg/config"
	"github.com/malbeclabs/tsfaker/faker/pkg/engine"
	"github.com/malbeclabs/tsfaker/faker/pkg/entity"
	"github.com/malbeclabs/tsfaker/faker/pkg/notify"
	"github.com/malbeclabs/tsfaker/faker/pkg/plan"
	"github.com/malbeclabs/tsfaker/faker/pkg/preview"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/server"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/synth"
)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Run is the validated run configuration.
	Run         *config.Config
	VersionInfo server.VersionInfo

	// Stdout receives the printed summary. Defaults to os.Stdout.
	Stdout io.Writer

	// Store and Entities replace the configured backend and entity source.
	Store    store.Client
	Entities entity.Source
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Run == nil {
		return errors.New("run configuration is required")
	}
	if cfg.Run.Resolved.Location == nil {
		return errors.New("run configuration is not validated")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	return nil
}

// Run executes one generation run and reports its summary. The returned
// error covers setup failures; aborted and timed out runs are reported
// through Summary.Err.
func Run(ctx context.Context, cfg Config) (*engine.Summary, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	rc := cfg.Run
	res := rc.Resolved
	runID := uuid.NewString()

	codec, err := rowkey.NewCodec(rc.RowKey.Separator, res.Location)
	if err != nil {
		return nil, err
	}

	st := cfg.Store
	if st == nil {
		st, err = OpenStore(ctx, log, rc, codec)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", rc.Store.Backend, err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Warn("faker: failed to close store", "error", err)
			}
		}()
	}

	entities, err := loadEntities(ctx, cfg)
	if err != nil {
		return nil, err
	}

	synthesizer, err := synth.New(res.Provider, res.Bounds)
	if err != nil {
		return nil, err
	}
	planner, err := plan.NewBuilder(plan.BuilderConfig{
		Codec:       codec,
		KeyPattern:  res.KeyPattern,
		Synthesizer: synthesizer,
		Columns:     res.Columns,
		Unit:        res.Unit,
		Amount:      rc.Generator.RowKeyDateAmount,
		Steps:       rc.Generator.Steps,
		Offset:      rc.CumulativeFaker.OffsetLastDateAmount,
	})
	if err != nil {
		return nil, err
	}

	previewers := engine.Previewers{engine.LogPreviewer{Logger: log}}
	var pw *preview.Writer
	if rc.DryRun && rc.Preview.BucketURL != "" {
		bucket, err := blob.OpenBucket(ctx, rc.Preview.BucketURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open preview bucket %s: %w", rc.Preview.BucketURL, err)
		}
		defer bucket.Close()
		pw, err = preview.NewWriter(preview.WriterConfig{Logger: log, Bucket: bucket, Key: rc.Preview.Key, RunID: runID})
		if err != nil {
			return nil, err
		}
		previewers = append(previewers, pw)
	}

	var limiter *rate.Limiter
	if wps := rc.Generator.WritesPerSecond; wps > 0 {
		limiter = rate.NewLimiter(rate.Limit(wps), max(1, int(wps)))
	}

	var running atomic.Bool
	running.Store(true)
	if rc.MetricsAddr != "" {
		srv, err := server.New(server.Config{
			Logger:      log,
			ListenAddr:  rc.MetricsAddr,
			VersionInfo: cfg.VersionInfo,
			Ready:       running.Load,
		})
		if err != nil {
			return nil, err
		}
		srvCtx, stopServer := context.WithCancel(context.WithoutCancel(ctx))
		srvDone := make(chan struct{})
		go func() {
			defer close(srvDone)
			if err := srv.Run(srvCtx); err != nil {
				log.Error("faker: metrics server failed", "error", err)
			}
		}()
		defer func() {
			stopServer()
			<-srvDone
		}()
	}

	eng, err := engine.New(engine.Config{
		Logger:        log,
		Clock:         cfg.Clock,
		Store:         st,
		Planner:       planner,
		Synthesizer:   synthesizer,
		Window:        res.Window,
		Previewer:     previewers,
		DryRun:        rc.DryRun,
		ThreadPools:   rc.ThreadPools,
		MaxLimit:      int(rc.MaxLimit),
		ErrorContinue: rc.ErrorContinue,
		AwaitTimeout:  res.AwaitTimeout,
		WriteLimiter:  limiter,
		Seed:          rc.Generator.Seed,
		RunID:         runID,
	})
	if err != nil {
		return nil, err
	}

	summary := eng.Run(ctx, entities)
	running.Store(false)

	if pw != nil {
		if _, err := pw.Flush(context.WithoutCancel(ctx)); err != nil {
			log.Error("faker: failed to write preview", "error", err)
		}
	}

	PrintSummary(cfg.Stdout, summary)

	if rc.Slack.WebhookURL != "" {
		n, err := notify.NewSlack(notify.SlackConfig{
			Logger:     log,
			WebhookURL: rc.Slack.WebhookURL,
			Title:      rc.TableNamespace + ":" + rc.TableName,
		})
		if err == nil {
			err = n.Notify(context.WithoutCancel(ctx), summary)
		}
		if err != nil {
			log.Warn("faker: failed to send slack summary", "error", err)
		}
	}

	return summary, nil
}

func loadEntities(ctx context.Context, cfg Config) ([]entity.Entity, error) {
	rc := cfg.Run
	src := cfg.Entities
	switch {
	case src != nil:
	case len(rc.Entities) > 0:
		src = entity.FromIDs(rc.TableNamespace, rc.TableName, rc.Entities...)
	default:
		src = &entity.CSVSource{
			Logger:    cfg.Logger,
			Location:  rc.MetaCsvFile,
			Namespace: rc.TableNamespace,
			Table:     rc.TableName,
		}
	}
	entities, err := src.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	entities = entity.Dedupe(cfg.Logger, entities)
	if len(entities) == 0 {
		return nil, errors.New("no entities to generate rows for")
	}
	cfg.Logger.Info("faker: loaded entities", "count", len(entities))
	return entities, nil
}

// PrintSummary writes a human readable run report.
func PrintSummary(w io.Writer, s *engine.Summary) {
	mode := ""
	if s.DryRun {
		mode = " [DRY RUN]"
	}
	fmt.Fprintf(w, "Run %s%s\n", s.RunID, mode)
	fmt.Fprintf(w, "  Status:    %s\n", s.Status)
	fmt.Fprintf(w, "  Elapsed:   %s\n", s.Elapsed)
	fmt.Fprintf(w, "  Rows:      %d\n", s.Rows)
	fmt.Fprintf(w, "  Written:   %d\n", s.Written)
	fmt.Fprintf(w, "  Previewed: %d\n", s.Previewed)
	fmt.Fprintf(w, "  Skipped:   %d", s.Skipped)
	if n := s.SkippedFor(engine.ReasonLimitReached); n > 0 {
		fmt.Fprintf(w, " (%d after the row limit)", n)
	}
	fmt.Fprintf(w, "\n  Failed:    %d\n", s.Failed)
	if s.Err != nil {
		fmt.Fprintf(w, "  Error:     %v\n", s.Err)
	}
	if failures := s.Failures(); len(failures) > 0 {
		fmt.Fprintf(w, "Failures:\n")
		for _, o := range failures {
			fmt.Fprintf(w, "  %s\n", o)
		}
	}
}
