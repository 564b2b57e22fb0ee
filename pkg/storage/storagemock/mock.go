package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fluviusenergy/fluviusenergy/pkg/storage"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetLifetimeState(ctx context.Context, accountID string) (types.LifetimeState, error) {
	args := m.Called(ctx, accountID)
	if len(args) > 0 {
		return args.Get(0).(types.LifetimeState), args.Error(1)
	}
	return types.NewLifetimeState(), nil
}

func (m *MockDatabase) SetLifetimeState(ctx context.Context, accountID string, state types.LifetimeState) error {
	args := m.Called(ctx, accountID, state)
	return args.Error(0)
}

func (m *MockDatabase) UpsertDailySummaries(ctx context.Context, accountID string, summaries []types.DailySummary) error {
	args := m.Called(ctx, accountID, summaries)
	return args.Error(0)
}

func (m *MockDatabase) GetDailySummaries(ctx context.Context, accountID string, start, end time.Time) ([]types.DailySummary, error) {
	args := m.Called(ctx, accountID, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.DailySummary), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
