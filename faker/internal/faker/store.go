package faker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/tsfaker/faker/pkg/clickhouse"
	"github.com/malbeclabs/tsfaker/faker/pkg/config"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/store/boltstore"
	"github.com/malbeclabs/tsfaker/faker/pkg/store/chstore"
	"github.com/malbeclabs/tsfaker/faker/pkg/store/influxstore"
	"github.com/malbeclabs/tsfaker/faker/pkg/store/pgstore"
)

// OpenStore connects the configured backend. cfg must be validated.
func OpenStore(ctx context.Context, log *slog.Logger, cfg *config.Config, codec *rowkey.Codec) (store.Client, error) {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendMemory:
		log.Warn("faker: using the in-memory store, no history is available unless seeded")
		return store.NewMemory(), nil

	case config.BackendClickHouse:
		chCfg := clickhouse.Config{
			Addr:     sc.ClickHouse.Addr,
			Database: sc.ClickHouse.Database,
			Username: sc.ClickHouse.Username,
			Password: sc.ClickHouse.Password,
			Secure:   sc.ClickHouse.Secure,
		}
		if sc.ClickHouse.Migrate {
			if err := clickhouse.Up(ctx, log, chCfg); err != nil {
				return nil, fmt.Errorf("failed to run clickhouse migrations: %w", err)
			}
		}
		client, err := clickhouse.NewClient(ctx, log, chCfg)
		if err != nil {
			return nil, err
		}
		s, err := chstore.NewStore(chstore.StoreConfig{Logger: log, ClickHouse: client})
		if err != nil {
			client.Close()
			return nil, err
		}
		return s, nil

	case config.BackendBolt:
		s, err := boltstore.NewStore(boltstore.StoreConfig{
			Logger:     log,
			Path:       sc.Bolt.Path,
			Codec:      codec,
			KeyPattern: cfg.Resolved.KeyPattern,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.BackendPostgres:
		s, err := pgstore.NewStore(ctx, pgstore.StoreConfig{
			Logger:   log,
			DSN:      sc.Postgres.DSN,
			Migrate:  sc.Postgres.Migrate,
			MaxConns: sc.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case config.BackendInflux:
		s, err := influxstore.NewStore(influxstore.StoreConfig{
			Logger:   log,
			Host:     sc.Influx.Host,
			Token:    sc.Influx.Token,
			Database: sc.Influx.Database,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
}
