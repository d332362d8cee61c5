// Package chstore keeps generated rows in a ClickHouse table, one record
// per (row, column).
package chstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/clickhouse"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

const backend = "clickhouse"

type StoreConfig struct {
	Logger     *slog.Logger
	ClickHouse clickhouse.Client
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

const readBaselineQuery = `
SELECT column_name, event_ts, value
FROM column_values FINAL
WHERE namespace = ? AND table_name = ? AND entity_id = ?
  AND event_ts >= ? AND event_ts <= ?
ORDER BY event_ts DESC`

func (s *Store) ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	start := time.Now()
	b, err := retry.DoValue(ctx, store.RetryConfig(s.log, backend, "read"), func() (series.Baseline, error) {
		conn, err := s.cfg.ClickHouse.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		rows, err := conn.Query(ctx, readBaselineQuery, namespace, table, entityID, r.Start.UTC(), r.End.UTC())
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

const insertQuery = `INSERT INTO column_values (namespace, table_name, entity_id, row_key, column_name, event_ts, value, ingested_at)`

func (s *Store) Write(ctx context.Context, row store.Row) error {
	start := time.Now()
	err := retry.Do(ctx, store.RetryConfig(s.log, backend, "write"), func() error {
		conn, err := s.cfg.ClickHouse.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to get connection: %w", err)
		}
		defer conn.Close()

		batch, err := conn.PrepareBatch(ctx, insertQuery)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		ingestedAt := time.Now().UTC()
		for _, col := range row.Columns() {
			if err := batch.Append(row.Namespace, row.Table, row.EntityID, row.Key.String(), col, row.Time.UTC(), row.Values[col], ingestedAt); err != nil {
				_ = batch.Abort()
				return fmt.Errorf("failed to append column %s: %w", col, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	})
	store.Observe(backend, "write", start, err)
	if err == nil {
		s.log.Debug("chstore: wrote row", "row_key", row.Key.String(), "columns", len(row.Values))
	}
	return err
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.cfg.ClickHouse.Close()
}
