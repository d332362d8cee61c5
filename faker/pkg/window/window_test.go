package window

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/tsfaker/faker/pkg/timefmt"
	"github.com/stretchr/testify/require"
)

func TestFaker_Window_Defaults(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 10, 12, 34, 56, 789, time.UTC))
	w, err := Resolve(Params{}, clock.Now())
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 6, 8, 12, 34, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2024, 6, 9, 12, 34, 0, 0, time.UTC), w.End)
	require.Equal(t, "202406081234", w.StartDate())
	require.Equal(t, "202406091234", w.EndDate())
	require.Equal(t, "202406081234..202406091234", w.String())
}

func TestFaker_Window_DefaultsUseCalendarDays(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// The clocks moved forward on 2024-03-10.
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, ny)
	w, err := Resolve(Params{Location: ny}, now)
	require.NoError(t, err)
	require.True(t, time.Date(2024, 3, 9, 12, 0, 0, 0, ny).Equal(w.Start), "start %s", w.Start)
	require.True(t, time.Date(2024, 3, 10, 12, 0, 0, 0, ny).Equal(w.End), "end %s", w.End)
	require.Equal(t, "202403091200", w.StartDate())
}

func TestFaker_Window_DefaultsFollowClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 10, 0, 0, 30, 0, time.UTC))
	first, err := Resolve(Params{}, clock.Now())
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	second, err := Resolve(Params{}, clock.Now())
	require.NoError(t, err)
	require.Equal(t, first.End, second.Start)
}

func TestFaker_Window_OverridesReplaceDefaults(t *testing.T) {
	t.Parallel()

	p := Params{
		StartDate: "20240101",
		EndDate:   "20240103",
		Pattern:   timefmt.MustParsePattern("yyyyMMdd"),
	}
	w, err := Resolve(p, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), w.End)
	require.Equal(t, "20240101", w.StartDate())
	require.True(t, w.Range().Contains(time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)))
}

func TestFaker_Window_Errors(t *testing.T) {
	t.Parallel()

	now := time.Now()
	for name, p := range map[string]Params{
		"start after end": {StartDate: "202401030000", EndDate: "202401010000"},
		"only start":      {StartDate: "202401010000"},
		"only end":        {EndDate: "202401010000"},
		"bad start":       {StartDate: "2024-01-01", EndDate: "202401010000"},
		"bad end":         {StartDate: "202401010000", EndDate: "yesterday"},
	} {
		_, err := Resolve(p, now)
		require.ErrorIs(t, err, ErrInvalidRange, name)
	}
}

func TestFaker_Window_EqualBoundsAllowed(t *testing.T) {
	t.Parallel()

	w, err := Resolve(Params{StartDate: "202401010000", EndDate: "202401010000"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, w.Start, w.End)
}
