package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Factor: 2}, func() error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, attempts)
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Minute, Factor: 2}, func() error {
		attempts++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoNoRetryOnSuccess(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Policy{}, func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
