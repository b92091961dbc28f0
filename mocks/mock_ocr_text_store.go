package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockOCRTextStore is a mock implementation of port.OCRTextStore.
type MockOCRTextStore struct {
	mock.Mock
}

func (m *MockOCRTextStore) Lookup(ctx context.Context, url string) (string, bool, error) {
	args := m.Called(ctx, url)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockOCRTextStore) Save(ctx context.Context, url, text string) error {
	args := m.Called(ctx, url, text)
	return args.Error(0)
}
