package engine

import (
	"context"
	"log/slog"

	"github.com/malbeclabs/tsfaker/faker/pkg/store"
)

// Previewer receives rows in dry-run mode instead of the store.
type Previewer interface {
	Preview(ctx context.Context, row store.Row) error
}

// LogPreviewer logs every previewed row.
type LogPreviewer struct {
	Logger *slog.Logger
}

func (p LogPreviewer) Preview(ctx context.Context, row store.Row) error {
	attrs := []any{"row_key", row.Key.String(), "entity_id", row.EntityID, "event_time", row.Time}
	for _, col := range row.Columns() {
		attrs = append(attrs, col, row.Values[col])
	}
	p.Logger.Info("[DRY RUN] would write row", attrs...)
	return nil
}

// Previewers fans a row out to several previewers, stopping at the first error.
type Previewers []Previewer

func (ps Previewers) Preview(ctx context.Context, row store.Row) error {
	for _, p := range ps {
		if err := p.Preview(ctx, row); err != nil {
			return err
		}
	}
	return nil
}
