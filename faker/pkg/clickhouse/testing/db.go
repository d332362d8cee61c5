package clickhousetesting

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/tsfaker/faker/pkg/clickhouse"
	"github.com/malbeclabs/tsfaker/utils/pkg/retry"
)

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// DB is a ClickHouse test container shared by the tests of a package.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

// Config returns client settings for database on this container.
func (db *DB) Config(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := testcontainers.TerminateContainer(db.container, testcontainers.StopContext(terminateCtx)); err != nil {
		db.log.Error("clickhousetesting: failed to terminate container", "error", err)
	}
}

// containerRetry covers flaky docker starts and the first handshakes a
// fresh server refuses.
func containerRetry(patterns ...string) retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
		Retryable: func(err error) bool {
			msg := err.Error()
			for _, p := range patterns {
				if strings.Contains(msg, p) {
					return true
				}
			}
			return retry.IsRetryable(err)
		},
	}
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	container, err := retry.DoValue(ctx, containerRetry("wait until ready", "mapped port"), func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	port, err := container.MappedPort(ctx, nat.Port(cfg.Port+"/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		addr:      net.JoinHostPort(host, port.Port()),
		container: container,
	}, nil
}

// NewTestClient creates a client on a fresh random database, migrated to
// the latest schema and dropped when the test ends.
func NewTestClient(t *testing.T, db *DB) clickhouse.Client {
	t.Helper()

	admin := connect(t, db, db.cfg.Database)
	adminConn, err := admin.Conn(t.Context())
	require.NoError(t, err)

	database := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, clickhouse.CreateDatabase(t.Context(), db.log, adminConn, database))
	require.NoError(t, clickhouse.Up(t.Context(), db.log, db.Config(database)))

	client := connect(t, db, database)
	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, adminConn.Exec(dropCtx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", database)))
		client.Close()
		admin.Close()
	})
	return client
}

func connect(t *testing.T, db *DB, database string) clickhouse.Client {
	t.Helper()
	client, err := retry.DoValue(t.Context(), containerRetry("handshake", "packet", "failed to ping", "dial tcp"), func() (clickhouse.Client, error) {
		return clickhouse.NewClient(t.Context(), db.log, db.Config(database))
	})
	require.NoError(t, err, "failed to create ClickHouse client")
	return client
}
