package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	ok := NewPingChecker("postgres", func(context.Context) error { return nil })
	h := NewHealthChecker(ok)

	results := h.Check(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, StatusHealthy, Overall(results))
	assert.NoError(t, h.Ping(context.Background()))

	h.Register(NewPingChecker("redis", func(context.Context) error { return errors.New("connection refused") }))
	results = h.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, Overall(results))
	assert.Equal(t, "connection refused", results["redis"].Error)

	err := h.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: connection refused")
}

func TestHealthChecker_Empty(t *testing.T) {
	h := NewHealthChecker()
	assert.Equal(t, StatusHealthy, Overall(h.Check(context.Background())))
}
