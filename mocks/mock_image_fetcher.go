package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"assesslab/internal/domain"
)

// MockImageFetcher is a mock implementation of vision.ImageFetcher.
type MockImageFetcher struct {
	mock.Mock
}

func (m *MockImageFetcher) ProcessBatch(ctx context.Context, urls []string) (domain.ImageProcessingOutcome, error) {
	args := m.Called(ctx, urls)
	return args.Get(0).(domain.ImageProcessingOutcome), args.Error(1)
}
