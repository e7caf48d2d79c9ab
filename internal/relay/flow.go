package relay

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// InitialThreshold is the starting and minimum pacing threshold.
	InitialThreshold = 6 << 20

	thresholdStep = 2 << 20
	minPause      = 100 * time.Millisecond
	maxPause      = 300 * time.Millisecond
)

// FlowController paces delivery to the client. Bytes accumulate into a delta
// after every write. A delta above the current threshold raises the
// threshold to match it, absorbing the burst. A delta above
// InitialThreshold but within the threshold costs a randomized pause and
// relaxes the threshold by 2 MiB, never below InitialThreshold. The delta
// restarts after each such decision.
//
// A FlowController is not safe for concurrent use.
type FlowController struct {
	threshold int64
	delta     int64
	pauses    int

	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewFlowController() *FlowController {
	return &FlowController{threshold: InitialThreshold, Sleep: sleepContext}
}

// Observe records n bytes written to the client and pauses if the transfer
// has been heavy for long enough.
func (f *FlowController) Observe(ctx context.Context, n int) error {
	f.delta += int64(n)

	switch {
	case f.delta > f.threshold:
		f.threshold = f.delta
		f.delta = 0
	case f.delta > InitialThreshold:
		f.pauses++
		f.delta = 0
		f.threshold = max(f.threshold-thresholdStep, InitialThreshold)
		return f.Sleep(ctx, minPause+rand.N(maxPause-minPause))
	}
	return nil
}

// Threshold returns the current threshold in bytes.
func (f *FlowController) Threshold() int64 {
	return f.threshold
}

// Pauses returns how many pauses have been inserted.
func (f *FlowController) Pauses() int {
	return f.pauses
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
