// Package pgstore keeps generated rows in PostgreSQL, one record per
// (row, column), upserted on the row key.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/tsfaker/faker"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

const backend = "postgres"

type StoreConfig struct {
	Logger *slog.Logger
	DSN    string
	// Migrate applies the schema migrations when the store opens.
	Migrate  bool
	MaxConns int32
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DSN == "" {
		return errors.New("postgres dsn is required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 10
	}
	return nil
}

type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Migrate {
		if err := migrate(ctx, cfg.Logger, cfg.DSN); err != nil {
			return nil, err
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	cfg.Logger.Info("postgres store connected", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Store{log: cfg.Logger, pool: pool}, nil
}

type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func migrate(ctx context.Context, log *slog.Logger, dsn string) error {
	log.Info("running PostgreSQL migrations (up)")
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(faker.PostgresMigrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "db/postgres/migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const readBaselineQuery = `
SELECT column_name, event_ts, value
FROM column_values
WHERE namespace = $1 AND table_name = $2 AND entity_id = $3
  AND event_ts >= $4 AND event_ts <= $5
ORDER BY event_ts DESC`

func (s *Store) ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	start := time.Now()
	b, err := retry.DoValue(ctx, store.RetryConfig(s.log, backend, "read"), func() (series.Baseline, error) {
		rows, err := s.pool.Query(ctx, readBaselineQuery, namespace, table, entityID, r.Start, r.End)
		if err != nil {
			return nil, fmt.Errorf("failed to query column values: %w", err)
		}
		defer rows.Close()

		b := series.Baseline{}
		for rows.Next() {
			var (
				column string
				ts     time.Time
				value  float64
			)
			if err := rows.Scan(&column, &ts, &value); err != nil {
				return nil, fmt.Errorf("failed to scan column value: %w", err)
			}
			b.Add(column, ts, value)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate column values: %w", err)
		}
		b.Sort()
		return b, nil
	})
	store.Observe(backend, "read", start, err)
	return b, err
}

const upsertQuery = `
INSERT INTO column_values (namespace, table_name, row_key, entity_id, event_ts, column_name, value, ingested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (namespace, table_name, row_key, column_name)
DO UPDATE SET value = EXCLUDED.value, event_ts = EXCLUDED.event_ts, ingested_at = EXCLUDED.ingested_at`

func (s *Store) Write(ctx context.Context, row store.Row) error {
	start := time.Now()
	err := retry.Do(ctx, store.RetryConfig(s.log, backend, "write"), func() error {
		batch := &pgx.Batch{}
		for _, col := range row.Columns() {
			batch.Queue(upsertQuery, row.Namespace, row.Table, row.Key.String(), row.EntityID, row.Time, col, row.Values[col])
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert row %s: %w", row.Key, err)
		}
		return nil
	})
	store.Observe(backend, "write", start, err)
	return err
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
