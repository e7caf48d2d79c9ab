package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFlow() (*FlowController, *[]time.Duration) {
	var slept []time.Duration
	f := NewFlowController()
	f.Sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return f, &slept
}

func TestFlowControllerShortBurstNoPause(t *testing.T) {
	t.Parallel()

	f, slept := newTestFlow()
	for range 5 {
		require.NoError(t, f.Observe(context.Background(), 1<<20))
	}
	require.Empty(t, *slept)
	require.EqualValues(t, InitialThreshold, f.Threshold())
}

func TestFlowControllerContiguousBurst(t *testing.T) {
	t.Parallel()

	f, slept := newTestFlow()

	// First 10 MiB burst raises the threshold.
	require.NoError(t, f.Observe(context.Background(), 10<<20))
	require.Empty(t, *slept)
	require.EqualValues(t, 10<<20, f.Threshold())

	// The second crossing of InitialThreshold pauses and relaxes.
	require.NoError(t, f.Observe(context.Background(), 10<<20))
	require.Len(t, *slept, 1)
	require.GreaterOrEqual(t, (*slept)[0], minPause)
	require.Less(t, (*slept)[0], maxPause)
	require.EqualValues(t, 8<<20, f.Threshold())
	require.Equal(t, 1, f.Pauses())
}

func TestFlowControllerSustainedChunks(t *testing.T) {
	t.Parallel()

	f, slept := newTestFlow()
	for range 14 {
		require.NoError(t, f.Observe(context.Background(), 1<<20))
	}
	require.Len(t, *slept, 1)
	require.EqualValues(t, InitialThreshold, f.Threshold())

	for range 100 {
		require.NoError(t, f.Observe(context.Background(), 1<<20))
	}
	require.Greater(t, len(*slept), 5)
}

func TestFlowControllerThresholdFloor(t *testing.T) {
	t.Parallel()

	f, _ := newTestFlow()
	require.NoError(t, f.Observe(context.Background(), 7<<20))
	require.EqualValues(t, 7<<20, f.Threshold())
	require.NoError(t, f.Observe(context.Background(), 7<<20))
	require.EqualValues(t, InitialThreshold, f.Threshold())
}

func TestFlowControllerPauseHonorsContext(t *testing.T) {
	t.Parallel()

	f := NewFlowController()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.Observe(ctx, 10<<20))
	start := time.Now()
	require.ErrorIs(t, f.Observe(ctx, 10<<20), context.Canceled)
	require.Less(t, time.Since(start), minPause)
}
