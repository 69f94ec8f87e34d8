package calibrate

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/riskfusion/internal/history"
	"github.com/sells-group/riskfusion/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LoadLast(ctx context.Context, n int) ([]model.TrainingSample, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.TrainingSample), args.Error(1)
}

func (m *mockStore) Weights(ctx context.Context) (model.FusionWeights, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.FusionWeights), args.Error(1)
}

func (m *mockStore) SaveWeights(ctx context.Context, w model.FusionWeights) error {
	args := m.Called(ctx, w)
	return args.Error(0)
}

type mockMaintainer struct {
	mock.Mock
}

func (m *mockMaintainer) Maintain(ctx context.Context) (history.MaintenanceResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(history.MaintenanceResult), args.Error(1)
}
