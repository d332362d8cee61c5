// Package influxstore writes generated rows to InfluxDB 3: the table becomes
// the measurement, namespace, entity and row key become tags and every
// column becomes a field.
package influxstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

const backend = "influxdb"

const (
	tagNamespace = "namespace"
	tagEntity    = "entity_id"
	tagRowKey    = "row_key"
	timeColumn   = "time"
)

type StoreConfig struct {
	Logger   *slog.Logger
	Host     string
	Token    string
	Database string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Host == "" {
		return errors.New("influx host is required")
	}
	if cfg.Database == "" {
		return errors.New("influx database is required")
	}
	return nil
}

type Store struct {
	log    *slog.Logger
	client *influxdb3.Client
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influxdb client: %w", err)
	}
	cfg.Logger.Info("influxdb store initialized", "host", cfg.Host, "database", cfg.Database)
	return &Store{log: cfg.Logger, client: client}, nil
}

func (s *Store) ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	start := time.Now()
	b, err := retry.DoValue(ctx, store.RetryConfig(s.log, backend, "read"), func() (series.Baseline, error) {
		query, params, err := baselineQuery(namespace, table, entityID, r)
		if err != nil {
			return nil, err
		}
		it, err := s.client.QueryWithParameters(ctx, query, params)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		b := series.Baseline{}
		for it.Next() {
			if err := addRecord(b, it.Value()); err != nil {
				return nil, err
			}
		}
		b.Sort()
		return b, nil
	})
	store.Observe(backend, "read", start, err)
	return b, err
}

func (s *Store) Write(ctx context.Context, row store.Row) error {
	start := time.Now()
	p := influxdb3.NewPointWithMeasurement(row.Table).
		SetTag(tagNamespace, row.Namespace).
		SetTag(tagEntity, row.EntityID).
		SetTag(tagRowKey, row.Key.String()).
		SetTimestamp(row.Time)
	for _, col := range row.Columns() {
		p = p.SetField(col, row.Values[col])
	}
	err := retry.Do(ctx, store.RetryConfig(s.log, backend, "write"), func() error {
		if err := s.client.WritePoints(ctx, []*influxdb3.Point{p}); err != nil {
			return fmt.Errorf("failed to write row %s: %w", row.Key, err)
		}
		return nil
	})
	store.Observe(backend, "write", start, err)
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}

// baselineQuery builds the SQL for one entity's values. The measurement is
// an identifier and cannot be a parameter, so it is validated and quoted.
func baselineQuery(namespace, table, entityID string, r series.Range) (string, influxdb3.QueryParameters, error) {
	if table == "" || strings.ContainsAny(table, "\"\n\r\x00") {
		return "", nil, fmt.Errorf("invalid measurement name %q", table)
	}
	query := fmt.Sprintf(
		`SELECT * FROM "%s" WHERE %s = $namespace AND %s = $entity AND %s >= $start AND %s <= $end ORDER BY %s DESC`,
		table, tagNamespace, tagEntity, timeColumn, timeColumn, timeColumn)
	params := influxdb3.QueryParameters{
		"namespace": namespace,
		"entity":    entityID,
		"start":     r.Start.UTC().Format(time.RFC3339Nano),
		"end":       r.End.UTC().Format(time.RFC3339Nano),
	}
	return query, params, nil
}

// addRecord adds the numeric fields of one result row to b.
func addRecord(b series.Baseline, rec map[string]any) error {
	var ts time.Time
	switch v := rec[timeColumn].(type) {
	case time.Time:
		ts = v
	case int64:
		ts = time.Unix(0, v).UTC()
	default:
		return fmt.Errorf("result row has no usable %s column (%T)", timeColumn, rec[timeColumn])
	}
	for col, raw := range rec {
		switch col {
		case timeColumn, tagNamespace, tagEntity, tagRowKey:
			continue
		}
		var v float64
		switch n := raw.(type) {
		case float64:
			v = n
		case int64:
			v = float64(n)
		case uint64:
			v = float64(n)
		default:
			continue
		}
		b.Add(col, ts, v)
	}
	return nil
}
