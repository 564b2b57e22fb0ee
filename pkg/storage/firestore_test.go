package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

func TestFirestoreProvider(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	// Use a random database for isolation
	randDB := fmt.Sprintf("test-db-%d", time.Now().UnixNano())
	f := &FirestoreProvider{
		projectID: "test-project-id",
		database:  randDB,
	}

	ctx := context.Background()
	require.NoError(t, f.Init(ctx))
	defer f.Close()

	t.Run("Validate", func(t *testing.T) {
		require.NoError(t, f.Validate())
	})

	t.Run("LifetimeState", func(t *testing.T) {
		state, err := f.GetLifetimeState(ctx, "test-account")
		require.NoError(t, err)
		assert.Equal(t, types.NewLifetimeState(), state)

		day := "2025-06-01T00:00:00+02:00"
		state.Days[day] = types.Metrics{types.MetricConsumptionHigh: 1.25}
		state.Totals[types.MetricConsumptionHigh] = 1.25
		state.LastDayID = &day
		require.NoError(t, f.SetLifetimeState(ctx, "test-account", state))

		got, err := f.GetLifetimeState(ctx, "test-account")
		require.NoError(t, err)
		assert.Equal(t, state, got)
	})

	t.Run("EmptyAccountID", func(t *testing.T) {
		_, err := f.GetLifetimeState(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyAccountID)
	})

	t.Run("DailySummaries", func(t *testing.T) {
		require.NoError(t, f.UpsertDailySummaries(ctx, "test-account", []types.DailySummary{
			testSummary(2, 2), testSummary(1, 1),
		}))
		from := time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC)
		got, err := f.GetDailySummaries(ctx, "test-account", from, from.Add(72*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, testSummary(1, 1).DayID, got[0].DayID)
		assert.Equal(t, 2.0, got[1].Metrics[types.MetricConsumptionHigh])
	})
}
