package timesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForSyncBeforeRun(t *testing.T) {
	s := NewService(DefaultConfig())

	err := s.WaitForSync(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSyncLatchesWithinThreshold(t *testing.T) {
	config := DefaultConfig()
	config.Interval = 10 * time.Millisecond

	s := NewService(config)
	s.QueryFunc = func(server string) (time.Duration, error) {
		return 20 * time.Millisecond, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, s.WaitForSync(waitCtx))

	status := s.Status()
	assert.True(t, status.Synced)
	assert.Equal(t, 20*time.Millisecond, status.Offset)
	assert.Empty(t, status.Error)
}

func TestSyncNotLatchedOutsideThreshold(t *testing.T) {
	config := DefaultConfig()
	config.Interval = 10 * time.Millisecond
	config.Threshold = 100 * time.Millisecond

	s := NewService(config)
	s.QueryFunc = func(server string) (time.Duration, error) {
		return 5 * time.Second, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer waitCancel()
	err := s.WaitForSync(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, s.Status().Synced)
}

func TestSyncRecoversFromQueryErrors(t *testing.T) {
	config := DefaultConfig()
	config.Interval = 10 * time.Millisecond

	s := NewService(config)
	calls := 0
	s.QueryFunc = func(server string) (time.Duration, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("ntp unreachable")
		}
		return time.Millisecond, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, s.WaitForSync(waitCtx))
	assert.GreaterOrEqual(t, calls, 3)
	assert.Empty(t, s.Status().Error)
}
