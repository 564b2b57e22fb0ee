package lifetime

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/storage/storagemock"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func dayID(i int) string {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02T15:04:05-07:00")
}

func metrics(ch, cl, ih, il float64) types.Metrics {
	m := types.Metrics{
		types.MetricConsumptionHigh: ch,
		types.MetricConsumptionLow:  cl,
		types.MetricInjectionHigh:   ih,
		types.MetricInjectionLow:    il,
	}
	m.Derive()
	return m
}

// newMockStore returns a store on an empty account. The returned pointer
// always holds the last persisted state.
func newMockStore(t *testing.T) (*Store, *storagemock.MockDatabase, *types.LifetimeState) {
	db := &storagemock.MockDatabase{}
	db.On("GetLifetimeState", mock.Anything, "acct").Return(types.NewLifetimeState(), nil)
	var saved types.LifetimeState
	db.On("SetLifetimeState", mock.Anything, "acct", mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(2).(types.LifetimeState)
	}).Return(nil)
	return NewStore(db, "acct"), db, &saved
}

func TestProcessSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		s, db, saved := newMockStore(t)
		m := metrics(5.5, 1.25, 0, 2)

		changed, err := s.ProcessSummary(ctx, dayID(0), m)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = s.ProcessSummary(ctx, dayID(0), m)
		require.NoError(t, err)
		assert.False(t, changed)

		db.AssertNumberOfCalls(t, "GetLifetimeState", 1)
		db.AssertNumberOfCalls(t, "SetLifetimeState", 1)
		assert.Equal(t, 5.5, saved.Totals[types.MetricConsumptionHigh])
		assert.Equal(t, 2.0, saved.Totals[types.MetricInjectionLow])
		require.NotNil(t, saved.LastDayID)
		assert.Equal(t, dayID(0), *saved.LastDayID)
	})

	t.Run("MonotonicWithCorrections", func(t *testing.T) {
		s, _, _ := newMockStore(t)
		steps := []types.Metrics{
			metrics(10, 0, 1, 0),
			metrics(7, 0, 0.5, 0), // corrected down
			metrics(9, 2, 0.5, 0),
			metrics(9, 2, 0.5, 0),
			metrics(0, 0, 0, 0), // reset
			metrics(1, 0, 0, 0),
		}
		var last types.LifetimeTotals
		for i, m := range steps {
			_, err := s.ProcessSummary(ctx, dayID(0), m)
			require.NoError(t, err)
			totals := s.LifetimeTotals()
			if last != nil {
				for _, metric := range types.AllMetrics[:6] {
					assert.GreaterOrEqual(t, totals[metric], last[metric], "step %d %s", i, metric)
				}
			}
			last = totals
		}
		// 10, then +2 after the correction to 7, then +1 after the reset
		assert.Equal(t, 13.0, last[types.MetricConsumptionHigh])
		assert.Equal(t, 2.0, last[types.MetricConsumptionLow])
		assert.Equal(t, 1.0, last[types.MetricInjectionHigh])
		assert.Equal(t, 1.0, s.DayMetrics(dayID(0))[types.MetricConsumptionHigh])
	})

	t.Run("Rounding", func(t *testing.T) {
		s, db, _ := newMockStore(t)
		_, err := s.ProcessSummary(ctx, dayID(0), metrics(0.1, 0, 0, 0))
		require.NoError(t, err)
		_, err = s.ProcessSummary(ctx, dayID(1), metrics(0.2, 0, 0, 0))
		require.NoError(t, err)
		// float noise below the fourth decimal is not a change
		changed, err := s.ProcessSummary(ctx, dayID(1), metrics(0.20000001, 0, 0, 0))
		require.NoError(t, err)
		assert.False(t, changed)
		db.AssertNumberOfCalls(t, "SetLifetimeState", 2)

		totals := s.LifetimeTotals()
		assert.Equal(t, 0.3, totals[types.MetricConsumptionHigh])
		assert.Equal(t, 0.3, totals[types.MetricConsumptionTotal])
		assert.Equal(t, 0.3, totals[types.MetricNetConsumption])
	})

	t.Run("DerivedTotals", func(t *testing.T) {
		s, _, _ := newMockStore(t)
		_, err := s.ProcessSummary(ctx, dayID(0), metrics(3.3333, 1.1111, 0.5, 0.25))
		require.NoError(t, err)
		totals := s.LifetimeTotals()
		assert.Len(t, totals, len(types.AllMetrics))
		assert.Equal(t, 4.4444, totals[types.MetricConsumptionTotal])
		assert.Equal(t, 0.75, totals[types.MetricInjectionTotal])
		assert.Equal(t, 3.6944, totals[types.MetricNetConsumption])
	})

	t.Run("Pruning", func(t *testing.T) {
		s, _, saved := newMockStore(t)
		for i := 0; i < 70; i++ {
			_, err := s.ProcessSummary(ctx, dayID(i), metrics(1, 0, 0, 0))
			require.NoError(t, err)
		}
		assert.Equal(t, MaxStoredDays, s.StoredDays())
		ids := slices.Sorted(maps.Keys(saved.Days))
		require.Len(t, ids, MaxStoredDays)
		assert.Equal(t, dayID(10), ids[0])
		assert.Equal(t, dayID(69), ids[len(ids)-1])
		assert.Equal(t, 70.0, s.LifetimeTotals()[types.MetricConsumptionHigh])

		// a day that was pruned is not counted twice
		changed, err := s.ProcessSummary(ctx, dayID(3), metrics(1, 0, 0, 0))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, 70.0, s.LifetimeTotals()[types.MetricConsumptionHigh])
	})

	t.Run("SaveFailureRollsBack", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLifetimeState", mock.Anything, "acct").Return(types.NewLifetimeState(), nil)
		db.On("SetLifetimeState", mock.Anything, "acct", mock.Anything).Return(errors.New("disk full")).Once()
		db.On("SetLifetimeState", mock.Anything, "acct", mock.Anything).Return(nil)
		s := NewStore(db, "acct")

		_, err := s.ProcessSummary(ctx, dayID(0), metrics(2, 0, 0, 0))
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, 0.0, s.LifetimeTotals()[types.MetricConsumptionHigh])
		_, ok := s.LastDayID()
		assert.False(t, ok)

		changed, err := s.ProcessSummary(ctx, dayID(0), metrics(2, 0, 0, 0))
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 2.0, s.LifetimeTotals()[types.MetricConsumptionHigh])
	})

	t.Run("LoadError", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLifetimeState", mock.Anything, "acct").Return(types.LifetimeState{}, errors.New("unavailable"))
		s := NewStore(db, "acct")
		_, err := s.ProcessSummary(ctx, dayID(0), metrics(1, 0, 0, 0))
		assert.ErrorContains(t, err, "unavailable")
		db.AssertNotCalled(t, "SetLifetimeState", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	last := dayID(4)
	stored := types.LifetimeState{
		Days:      map[string]types.Metrics{last: {types.MetricConsumptionHigh: 4}},
		Totals:    types.Metrics{types.MetricConsumptionHigh: 40},
		LastDayID: &last,
	}
	db := &storagemock.MockDatabase{}
	db.On("GetLifetimeState", mock.Anything, "acct").Return(stored, nil)
	db.On("SetLifetimeState", mock.Anything, "acct", mock.Anything).Return(nil)

	s := NewStore(db, "acct")
	require.NoError(t, s.Load(ctx))
	id, ok := s.LastDayID()
	assert.True(t, ok)
	assert.Equal(t, last, id)
	assert.Equal(t, 40.0, s.LifetimeTotals()[types.MetricConsumptionHigh])
	assert.Equal(t, 0.0, s.LifetimeTotals()[types.MetricInjectionLow])

	n, err := s.ProcessSummaries(ctx, []types.DailySummary{
		{DayID: last, Metrics: metrics(4, 0, 0, 0)},
		{DayID: last, Metrics: metrics(6, 0, 0, 0)},
		{DayID: dayID(5), Metrics: metrics(1, 0, 0, 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 43.0, s.LifetimeTotals()[types.MetricConsumptionHigh])
	assert.Equal(t, 6.0, s.DayMetrics(last)[types.MetricConsumptionHigh])
	assert.Equal(t, 0.0, s.DayMetrics("unknown")[types.MetricConsumptionHigh])
}
