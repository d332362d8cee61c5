// Package preview exports dry-run rows as a parquet file to a blob bucket.
package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"gocloud.dev/blob"

	"github.com/malbeclabs/tsfaker/faker/pkg/store"
)

// Record is one column value of a previewed row.
type Record struct {
	RunID     string    `parquet:"run_id"`
	Namespace string    `parquet:"namespace"`
	Table     string    `parquet:"table_name"`
	EntityID  string    `parquet:"entity_id"`
	RowKey    string    `parquet:"row_key"`
	EventTime time.Time `parquet:"event_ts,timestamp(millisecond)"`
	Column    string    `parquet:"column_name"`
	Value     float64   `parquet:"value"`
}

type WriterConfig struct {
	Logger *slog.Logger
	Bucket *blob.Bucket
	// Key defaults to previews/<run id>.parquet.
	Key   string
	RunID string
}

func (cfg *WriterConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bucket == nil {
		return errors.New("bucket is required")
	}
	if cfg.RunID == "" {
		return errors.New("run id is required")
	}
	if cfg.Key == "" {
		cfg.Key = fmt.Sprintf("previews/%s.parquet", cfg.RunID)
	}
	return nil
}

// Writer buffers previewed rows until Flush.
type Writer struct {
	cfg WriterConfig

	mu      sync.Mutex
	records []Record
}

func NewWriter(cfg WriterConfig) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Writer{cfg: cfg}, nil
}

func (w *Writer) Key() string { return w.cfg.Key }

func (w *Writer) Preview(ctx context.Context, row store.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, col := range row.Columns() {
		w.records = append(w.records, Record{
			RunID:     w.cfg.RunID,
			Namespace: row.Namespace,
			Table:     row.Table,
			EntityID:  row.EntityID,
			RowKey:    row.Key.String(),
			EventTime: row.Time.UTC(),
			Column:    col,
			Value:     row.Values[col],
		})
	}
	return nil
}

// Flush writes the buffered records and returns how many were written.
// Nothing is uploaded when no rows were previewed.
func (w *Writer) Flush(ctx context.Context) (int, error) {
	w.mu.Lock()
	records := w.records
	w.records = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	pw := parquet.NewGenericWriter[Record](&buf, parquet.Compression(&parquet.Zstd))
	if _, err := pw.Write(records); err != nil {
		return 0, fmt.Errorf("failed to encode preview: %w", err)
	}
	if err := pw.Close(); err != nil {
		return 0, fmt.Errorf("failed to close preview writer: %w", err)
	}

	if err := w.cfg.Bucket.WriteAll(ctx, w.cfg.Key, buf.Bytes(), &blob.WriterOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		return 0, fmt.Errorf("failed to upload preview %s: %w", w.cfg.Key, err)
	}
	w.cfg.Logger.Info("preview: uploaded parquet", "key", w.cfg.Key, "records", len(records), "bytes", buf.Len())
	return len(records), nil
}
