package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

func newTestSQLite(t *testing.T) *SQLiteProvider {
	t.Helper()
	s, err := NewSQLiteProvider(context.Background(), filepath.Join(t.TempDir(), "sub", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSummary(day int, consumption float64) types.DailySummary {
	start := time.Date(2025, 6, day, 0, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	m := types.NewMetrics()
	m[types.MetricConsumptionHigh] = consumption
	m.Derive()
	return types.DailySummary{
		DayID:   start.Format("2006-01-02T15:04:05-07:00"),
		Start:   start,
		End:     start.Add(24 * time.Hour),
		Metrics: m,
	}
}

func TestSQLiteProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("FilePermissions", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perm.db")
		s, err := NewSQLiteProvider(ctx, path)
		require.NoError(t, err)
		defer s.Close()
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("Validate", func(t *testing.T) {
		assert.Error(t, (&SQLiteProvider{}).Validate())
		assert.NoError(t, (&SQLiteProvider{path: "x.db"}).Validate())
	})

	t.Run("LifetimeState", func(t *testing.T) {
		s := newTestSQLite(t)

		state, err := s.GetLifetimeState(ctx, "acct")
		require.NoError(t, err)
		assert.Equal(t, types.NewLifetimeState(), state)

		day := "2025-06-01T00:00:00+02:00"
		state.Days[day] = types.Metrics{types.MetricConsumptionHigh: 1.25}
		state.Totals[types.MetricConsumptionHigh] = 1.25
		state.LastDayID = &day
		require.NoError(t, s.SetLifetimeState(ctx, "acct", state))

		got, err := s.GetLifetimeState(ctx, "acct")
		require.NoError(t, err)
		assert.Equal(t, state, got)

		state.Totals[types.MetricConsumptionHigh] = 2.5
		require.NoError(t, s.SetLifetimeState(ctx, "acct", state))
		got, err = s.GetLifetimeState(ctx, "acct")
		require.NoError(t, err)
		assert.Equal(t, 2.5, got.Totals[types.MetricConsumptionHigh])

		other, err := s.GetLifetimeState(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, other.Days)
	})

	t.Run("EmptyAccountID", func(t *testing.T) {
		s := newTestSQLite(t)
		_, err := s.GetLifetimeState(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyAccountID)
		assert.ErrorIs(t, s.SetLifetimeState(ctx, "", types.NewLifetimeState()), ErrEmptyAccountID)
	})

	t.Run("DailySummaries", func(t *testing.T) {
		s := newTestSQLite(t)
		require.NoError(t, s.UpsertDailySummaries(ctx, "acct", []types.DailySummary{
			testSummary(3, 3), testSummary(1, 1), testSummary(2, 2),
		}))
		// a corrected day replaces the stored one
		require.NoError(t, s.UpsertDailySummaries(ctx, "acct", []types.DailySummary{testSummary(2, 2.5)}))
		require.NoError(t, s.UpsertDailySummaries(ctx, "other", []types.DailySummary{testSummary(2, 9)}))

		from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		got, err := s.GetDailySummaries(ctx, "acct", from.Add(-24*time.Hour), from.Add(48*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, testSummary(1, 1).DayID, got[0].DayID)
		assert.Equal(t, 2.5, got[1].Metrics[types.MetricConsumptionHigh])
		assert.True(t, got[2].Start.Equal(testSummary(3, 3).Start))

		got, err = s.GetDailySummaries(ctx, "acct", from, from.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, testSummary(2, 0).DayID, got[0].DayID)
	})

	t.Run("Reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "reopen.db")
		s, err := NewSQLiteProvider(ctx, path)
		require.NoError(t, err)
		state := types.NewLifetimeState()
		state.Totals[types.MetricInjectionLow] = 4
		require.NoError(t, s.SetLifetimeState(ctx, "acct", state))
		require.NoError(t, s.Close())

		s, err = NewSQLiteProvider(ctx, path)
		require.NoError(t, err)
		defer s.Close()
		got, err := s.GetLifetimeState(ctx, "acct")
		require.NoError(t, err)
		assert.Equal(t, 4.0, got.Totals[types.MetricInjectionLow])
	})
}
