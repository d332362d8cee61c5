package boltstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/malbeclabs/tsfaker/faker/pkg/rowkey"
	"github.com/malbeclabs/tsfaker/faker/pkg/series"
	"github.com/malbeclabs/tsfaker/faker/pkg/store"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
	fakertesting "github.com/malbeclabs/tsfaker/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var keyPattern = timefmt.MustParsePattern("yyyyMMddHHmm")

func newStore(t *testing.T) (*Store, *rowkey.Codec) {
	t.Helper()
	codec, err := rowkey.NewCodec("|", time.UTC)
	require.NoError(t, err)
	s, err := NewStore(StoreConfig{
		Logger:     fakertesting.NewLogger(),
		Path:       filepath.Join(t.TempDir(), "rows.db"),
		Codec:      codec,
		KeyPattern: keyPattern,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, codec
}

func write(t *testing.T, s *Store, codec *rowkey.Codec, id string, ts time.Time, v float64) {
	t.Helper()
	key, err := codec.Encode("ns", "tb", id, ts, keyPattern)
	require.NoError(t, err)
	require.NoError(t, s.Write(t.Context(), store.Row{
		Key: key, Namespace: "ns", Table: "tb", EntityID: id, Time: ts,
		Values: map[string]float64{"activePower": v},
	}))
}

func TestFaker_BoltStore_RangeScanStaysWithinEntity(t *testing.T) {
	t.Parallel()

	s, codec := newStore(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range 10 {
		ts := base.Add(time.Duration(i) * time.Hour)
		write(t, s, codec, "M1", ts, float64(i))
		write(t, s, codec, "M10", ts, 1000+float64(i))
	}

	b, err := s.ReadBaseline(t.Context(), "ns", "tb", "M1", series.Range{Start: base.Add(2 * time.Hour), End: base.Add(5 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, b["activePower"], 4)
	require.Equal(t, 5.0, b["activePower"][0].Value)
	require.Equal(t, 2.0, b["activePower"][3].Value)
}

func TestFaker_BoltStore_FiltersExactTimes(t *testing.T) {
	t.Parallel()

	s, codec := newStore(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	write(t, s, codec, "M1", base, 1)
	write(t, s, codec, "M1", base.Add(time.Minute), 2)

	// Both keys format to the window bounds but only one time is inside.
	b, err := s.ReadBaseline(t.Context(), "ns", "tb", "M1", series.Range{Start: base.Add(30 * time.Second), End: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, b["activePower"], 1)
	require.Equal(t, 2.0, b["activePower"][0].Value)
}

func TestFaker_BoltStore_KeysAreOrderedAndOverwritten(t *testing.T) {
	t.Parallel()

	s, codec := newStore(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	write(t, s, codec, "M1", base.Add(2*time.Hour), 3)
	write(t, s, codec, "M1", base, 1)
	write(t, s, codec, "M1", base, 7)

	keys, err := s.Keys("ns", "tb")
	require.NoError(t, err)
	require.Equal(t, []rowkey.RowKey{"ns|tb|M1|202406010000", "ns|tb|M1|202406010200"}, keys)

	b, err := s.ReadBaseline(t.Context(), "ns", "tb", "M1", series.Range{Start: base, End: base})
	require.NoError(t, err)
	require.Equal(t, 7.0, b["activePower"][0].Value)
}

func TestFaker_BoltStore_MissingTableAndInvalidEntity(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	b, err := s.ReadBaseline(t.Context(), "ns", "absent", "M1", series.Range{Start: time.Now().Add(-time.Hour), End: time.Now()})
	require.NoError(t, err)
	require.Empty(t, b)

	_, err = s.ReadBaseline(t.Context(), "ns", "tb", "M|1", series.Range{})
	require.ErrorIs(t, err, rowkey.ErrInvalidKeyComponent)
}
