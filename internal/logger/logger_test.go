package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assesslab/internal/logger"
)

func TestNew_ValidLevels(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := logger.New("info", format)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := logger.New("verbose", "json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logger.OrNop(nil))
}

func TestRequestID_RoundTrip(t *testing.T) {
	ctx := logger.WithRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", logger.RequestID(ctx))
	assert.Empty(t, logger.RequestID(context.Background()))
}
