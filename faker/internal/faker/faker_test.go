package faker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/tsfaker/faker/pkg/config"
	"github.com/malbeclabs/tsfaker/faker/pkg/engine"
	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
	fakertesting "github.com/malbeclabs/tsfaker/utils/pkg/testing"
)

var now = time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)

func newRunConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Clock = clockwork.NewFakeClockAt(now)
	cfg.Entities = []string{"M1", "M2"}
	cfg.DryRun = false
	cfg.Generator.Seed = 7
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func seededStore(t *testing.T, ids ...string) *store.Memory {
	t.Helper()
	codec, err := rowkey.NewCodec("|", time.UTC)
	require.NoError(t, err)
	pattern := timefmt.MustParsePattern("yyyyMMddHHmm")
	m := store.NewMemory()
	put := func(id string, ts time.Time, v float64) {
		key, err := codec.Encode("safeclound", "tb_ammeter", id, ts, pattern)
		require.NoError(t, err)
		m.Put(store.Row{Key: key, Namespace: "safeclound", Table: "tb_ammeter", EntityID: id, Time: ts,
			Values: map[string]float64{"activePower": v, "reactivePower": v / 10}})
	}
	for _, id := range ids {
		put(id, now.Add(-36*time.Hour), 600)
		put(id, now.AddDate(0, 0, -6), 50)
	}
	return m
}

func TestFaker_Run_WritesRows(t *testing.T) {
	t.Parallel()

	m := seededStore(t, "M1", "M2")
	var out bytes.Buffer
	summary, err := Run(context.Background(), Config{
		Logger: fakertesting.NewLogger(),
		Clock:  clockwork.NewFakeClockAt(now),
		Run:    newRunConfig(t, nil),
		Stdout: &out,
		Store:  m,
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusCompleted, summary.Status)
	require.Equal(t, 2, summary.Written)
	require.Equal(t, 2, summary.Rows)
	require.Equal(t, 2, m.Writes())

	row, ok := m.Row("safeclound|tb_ammeter|M1|202406110830")
	require.True(t, ok)
	require.Greater(t, row.Values["activePower"], 600.0)
	require.Contains(t, out.String(), "Status:    completed")
}

func TestFaker_Run_DryRunPreviewAndSlack(t *testing.T) {
	t.Parallel()

	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	m := seededStore(t, "M1", "M2")
	var out bytes.Buffer
	summary, err := Run(context.Background(), Config{
		Logger: fakertesting.NewLogger(),
		Clock:  clockwork.NewFakeClockAt(now),
		Run: newRunConfig(t, func(c *config.Config) {
			c.DryRun = true
			c.Preview.BucketURL = "file://" + filepath.ToSlash(dir)
			c.Preview.Key = "preview.parquet"
			c.Slack.WebhookURL = srv.URL
		}),
		Stdout: &out,
		Store:  m,
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Previewed)
	require.Zero(t, m.Writes())
	require.Contains(t, out.String(), "[DRY RUN]")
	require.EqualValues(t, 1, posts.Load())

	info, err := os.Stat(filepath.Join(dir, "preview.parquet"))
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestFaker_Run_EntitiesFromCSV(t *testing.T) {
	t.Parallel()

	meta := filepath.Join(t.TempDir(), "meta.csv")
	require.NoError(t, os.WriteFile(meta, []byte("meter_id\nM1\nM1\nM3\n"), 0o644))

	m := seededStore(t, "M1")
	summary, err := Run(context.Background(), Config{
		Logger: fakertesting.NewLogger(),
		Clock:  clockwork.NewFakeClockAt(now),
		Run: newRunConfig(t, func(c *config.Config) {
			c.Entities = nil
			c.MetaCsvFile = meta
			c.ErrorContinue = true
		}),
		Stdout: &bytes.Buffer{},
		Store:  m,
	})
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)
	require.Equal(t, 1, summary.Written)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, "M3", summary.Failures()[0].EntityID)
}

func TestFaker_Run_AbortedRunReportsError(t *testing.T) {
	t.Parallel()

	m := seededStore(t, "M2")
	var out bytes.Buffer
	summary, err := Run(context.Background(), Config{
		Logger: fakertesting.NewLogger(),
		Clock:  clockwork.NewFakeClockAt(now),
		Run:    newRunConfig(t, nil),
		Stdout: &out,
		Store:  m,
	})
	require.NoError(t, err)
	require.Equal(t, engine.StatusAborted, summary.Status)
	require.ErrorIs(t, summary.Err, engine.ErrAborted)
	require.Contains(t, out.String(), "Failures:")
}

func TestFaker_Run_ConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), Config{})
	require.ErrorContains(t, err, "logger is required")
	_, err = Run(context.Background(), Config{Logger: fakertesting.NewLogger(), Run: config.Default()})
	require.ErrorContains(t, err, "not validated")
}

func TestFaker_OpenStore_Bolt(t *testing.T) {
	t.Parallel()

	cfg := newRunConfig(t, func(c *config.Config) {
		c.Store.Backend = config.BackendBolt
		c.Store.Bolt.Path = filepath.Join(t.TempDir(), "faker.db")
	})
	codec, err := rowkey.NewCodec("|", time.UTC)
	require.NoError(t, err)
	st, err := OpenStore(context.Background(), fakertesting.NewLogger(), cfg, codec)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}
