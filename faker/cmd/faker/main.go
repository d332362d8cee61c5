package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/tsfaker/faker/internal/faker"
	"github.com/malbeclabs/tsfaker/faker/pkg/config"
	"github.com/malbeclabs/tsfaker/faker/pkg/engine"
	"github.com/malbeclabs/tsfaker/faker/pkg/metrics"
	"github.com/malbeclabs/tsfaker/faker/pkg/server"
	"github.com/malbeclabs/tsfaker/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configFlag := flag.String("config", "", "Path to a YAML run configuration")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "Log format: text or json")

	dryRunFlag := flag.Bool("dry-run", true, "Preview rows instead of writing them")
	threadPoolsFlag := flag.Int("thread-pools", 1, "Number of entities processed concurrently")
	maxLimitFlag := flag.Int64("max-limit", 14400, "Maximum number of rows per run (0 = unlimited)")
	errorContinueFlag := flag.Bool("error-continue", false, "Keep going after an entity fails")
	awaitSecondsFlag := flag.Int("await-seconds", 0, "Seconds to wait for workers before timing out (0 = wait until done)")
	providerFlag := flag.String("provider", "CUMULATIVE", "Value provider: SIMPLE or CUMULATIVE")
	stepsFlag := flag.Int("steps", 1, "Number of rows generated per entity")
	seedFlag := flag.Uint64("seed", 0, "Random seed (0 = random)")
	writesPerSecondFlag := flag.Float64("writes-per-second", 0, "Write throttle (0 = unthrottled)")

	metaCsvFlag := flag.String("meta-csv", "", "Entity metadata CSV path or blob URL")
	entitiesFlag := flag.StringSlice("entities", nil, "Entity IDs to generate rows for, instead of the metadata CSV")
	namespaceFlag := flag.String("namespace", "safeclound", "Table namespace")
	tableFlag := flag.String("table", "tb_ammeter", "Table name")
	startDateFlag := flag.String("sample-start", "", "Sample window start (sample date pattern)")
	endDateFlag := flag.String("sample-end", "", "Sample window end (sample date pattern)")

	backendFlag := flag.String("backend", config.BackendMemory, "Store backend: memory, clickhouse, bolt, postgres or influxdb")
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse migrations before generating")
	boltPathFlag := flag.String("bolt-path", "", "Path of the bolt database file")
	previewURLFlag := flag.String("preview-bucket-url", "", "Blob bucket URL for the dry-run parquet preview")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to serve /metrics and /healthz on during the run")

	flag.Parse()

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{Verbose: *verboseFlag, Format: format})

	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}

	// Flags only override the file when given explicitly.
	changed := func(name string) bool { return flag.CommandLine.Changed(name) }
	if changed("dry-run") {
		cfg.DryRun = *dryRunFlag
	}
	if changed("thread-pools") {
		cfg.ThreadPools = *threadPoolsFlag
	}
	if changed("max-limit") {
		cfg.MaxLimit = *maxLimitFlag
	}
	if changed("error-continue") {
		cfg.ErrorContinue = *errorContinueFlag
	}
	if changed("await-seconds") {
		cfg.AwaitSeconds = *awaitSecondsFlag
	}
	if changed("provider") {
		cfg.Provider = *providerFlag
	}
	if changed("steps") {
		cfg.Generator.Steps = *stepsFlag
	}
	if changed("seed") {
		cfg.Generator.Seed = *seedFlag
	}
	if changed("writes-per-second") {
		cfg.Generator.WritesPerSecond = *writesPerSecondFlag
	}
	if changed("meta-csv") {
		cfg.MetaCsvFile = *metaCsvFlag
	}
	if changed("entities") {
		cfg.Entities = *entitiesFlag
	}
	if changed("namespace") {
		cfg.TableNamespace = *namespaceFlag
	}
	if changed("table") {
		cfg.TableName = *tableFlag
	}
	if changed("sample-start") {
		cfg.Sample.StartDate = *startDateFlag
	}
	if changed("sample-end") {
		cfg.Sample.EndDate = *endDateFlag
	}
	if changed("backend") {
		cfg.Store.Backend = *backendFlag
	}
	if changed("clickhouse-addr") {
		cfg.Store.ClickHouse.Addr = *clickhouseAddrFlag
	}
	if changed("clickhouse-migrate") {
		cfg.Store.ClickHouse.Migrate = *clickhouseMigrateFlag
	}
	if changed("bolt-path") {
		cfg.Store.Bolt.Path = *boltPathFlag
	}
	if changed("preview-bucket-url") {
		cfg.Preview.BucketURL = *previewURLFlag
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddrFlag
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			Environment:      os.Getenv("SENTRY_ENVIRONMENT"),
			Release:          version,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	span := sentry.StartSpan(ctx, "faker.run", sentry.WithDescription(fmt.Sprintf("generate %s:%s", cfg.TableNamespace, cfg.TableName)))
	summary, err := faker.Run(span.Context(), faker.Config{
		Logger:      log,
		Run:         cfg,
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
	})
	runErr := err
	if runErr == nil {
		runErr = summary.Err
	}
	if runErr != nil {
		span.Status = sentry.SpanStatusInternalError
		sentry.CaptureException(runErr)
	} else {
		span.Status = sentry.SpanStatusOK
	}
	span.Finish()

	if err != nil {
		return err
	}
	if summary.Status != engine.StatusCompleted {
		return fmt.Errorf("run %s: %w", summary.Status, summary.Err)
	}
	return nil
}
