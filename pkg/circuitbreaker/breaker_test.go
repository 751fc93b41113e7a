package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutePassesThrough(t *testing.T) {
	b, err := New(DefaultConfig("test"), nil)
	require.NoError(t, err)

	result, err := b.Execute(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, StateClosed, b.State())
}

func TestExecutePropagatesError(t *testing.T) {
	b, err := New(DefaultConfig("test"), nil)
	require.NoError(t, err)

	boom := errors.New("backend failure")
	_, err = b.Execute(context.Background(), func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrOpen)
}

func TestBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("test")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Minute
	b, err := New(cfg, nil)
	require.NoError(t, err)

	boom := errors.New("backend failure")
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
	}

	_, err = b.Execute(context.Background(), func() (interface{}, error) {
		return 1, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, StateOpen, b.State())
}
