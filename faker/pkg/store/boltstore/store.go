// Package boltstore keeps rows in a local bbolt file, keyed by row key, so
// entity history is read with an ordered range scan the way an HBase region
// would serve it.
package boltstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
)

const backend = "bolt"

type StoreConfig struct {
	Logger *slog.Logger
	Path   string
	Codec  *rowkey.Codec
	// KeyPattern must be the pattern the stored keys were encoded with.
	KeyPattern timefmt.Pattern
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Path == "" {
		return errors.New("bolt path is required")
	}
	if cfg.Codec == nil {
		return errors.New("row key codec is required")
	}
	if cfg.KeyPattern.IsZero() {
		return errors.New("row key pattern is required")
	}
	return nil
}

type Store struct {
	log *slog.Logger
	cfg StoreConfig
	db  *bolt.DB
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}
	cfg.Logger.Info("bolt store opened", "path", cfg.Path)
	return &Store{log: cfg.Logger, cfg: cfg, db: db}, nil
}

// record is the stored value of a row.
type record struct {
	EntityID string             `json:"entity_id"`
	Time     time.Time          `json:"time"`
	Values   map[string]float64 `json:"values"`
}

func bucketName(namespace, table string) []byte {
	return []byte(namespace + ":" + table)
}

func (s *Store) ReadBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	start := time.Now()
	b, err := s.readBaseline(ctx, namespace, table, entityID, r)
	store.Observe(backend, "read", start, err)
	return b, err
}

func (s *Store) readBaseline(ctx context.Context, namespace, table, entityID string, r series.Range) (series.Baseline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix, err := s.cfg.Codec.EntityPrefix(namespace, table, entityID)
	if err != nil {
		return nil, err
	}
	loc := s.cfg.Codec.Location()
	from := []byte(prefix + s.cfg.KeyPattern.Format(r.Start.In(loc)))
	to := []byte(prefix + s.cfg.KeyPattern.Format(r.End.In(loc)))

	b := series.Baseline{}
	err = s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName(namespace, table))
		if bkt == nil {
			return nil
		}
		c := bkt.Cursor()
		for k, v := c.Seek(from); k != nil && bytes.Compare(k, to) <= 0; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode row %q: %w", k, err)
			}
			if !r.Contains(rec.Time) {
				continue
			}
			for col, val := range rec.Values {
				b.Add(col, rec.Time, val)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.Sort()
	return b, nil
}

func (s *Store) Write(ctx context.Context, row store.Row) error {
	start := time.Now()
	err := s.write(ctx, row)
	store.Observe(backend, "write", start, err)
	return err
}

func (s *Store) write(ctx context.Context, row store.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(record{EntityID: row.EntityID, Time: row.Time, Values: row.Values})
	if err != nil {
		return fmt.Errorf("failed to encode row %s: %w", row.Key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists(bucketName(row.Namespace, row.Table))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return bkt.Put(row.Key.Bytes(), val)
	})
}

// Keys returns the stored keys of one table in order.
func (s *Store) Keys(namespace, table string) ([]rowkey.RowKey, error) {
	var keys []rowkey.RowKey
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName(namespace, table))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(k, _ []byte) error {
			keys = append(keys, rowkey.RowKey(k))
			return nil
		})
	})
	return keys, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
