package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"assesslab/internal/port"
)

// MockObjectStorage is a mock implementation of port.ObjectStorage.
// Uploaded bodies are drained and kept by key so tests can inspect archived content.
type MockObjectStorage struct {
	mock.Mock

	mu     sync.Mutex
	bodies map[string][]byte
}

func (m *MockObjectStorage) Upload(ctx context.Context, input port.UploadInput) (*port.UploadOutput, error) {
	if input.Body != nil {
		data, err := io.ReadAll(input.Body)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.bodies == nil {
			m.bodies = map[string][]byte{}
		}
		m.bodies[input.Key] = data
		m.mu.Unlock()
	}

	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.UploadOutput), args.Error(1)
}

// Uploaded returns every archived body keyed by object key.
func (m *MockObjectStorage) Uploaded() map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.bodies))
	for k, v := range m.bodies {
		out[k] = v
	}
	return out
}
