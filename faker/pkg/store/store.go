package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/metrics"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

var (
	ErrRead  = errors.New("store read failed")
	ErrWrite = errors.New("store write failed")
)

// Client reads historical values and writes generated rows.
//
// ReadBaseline returns the values of every column of one entity inside r,
// most recent first. Write stores one row; writing the same key twice
// overwrites it.
type Client interface {
	ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error)
	Write(ctx context.Context, row Row) error
	Close() error
}

// Row is one generated row.
type Row struct {
	Key       rowkey.RowKey
	Namespace string
	Table     string
	EntityID  string
	Time      time.Time
	Values    map[string]float64
}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r.Values))
	for c := range r.Values {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}

// Observe records the outcome and duration of one backend operation.
func Observe(backend, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.StoreOperationsTotal.WithLabelValues(backend, op, status).Inc()
	metrics.StoreOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// RetryConfig returns the retry settings backends use, logging and counting
// every retry.
func RetryConfig(log *slog.Logger, backend, op string) retry.Config {
	cfg := retry.DefaultConfig()
	cfg.OnRetry = func(attempt int, err error) {
		metrics.StoreRetriesTotal.WithLabelValues(backend, op).Inc()
		if log != nil {
			log.Warn("store: retrying operation", "backend", backend, "operation", op, "attempt", attempt, "error", err)
		}
	}
	return cfg
}
