// Package frame provides the isochronous tick source: a counter that hands
// out strictly increasing frame ids at a requested frame rate.
package frame

import (
	"context"
	"time"

	"netthrpt/internal/clock"
)

// Counter produces monotonically increasing frame ids at FPS, optionally
// aligned to an absolute epoch (tx-epoch-start).
type Counter struct {
	period time.Duration
	epoch  time.Time
	next   int64
}

// New creates a counter for fps frames per second. If epoch is the zero
// time, the counter aligns to its own construction time instead.
func New(fps float64, epoch time.Time) *Counter {
	period := time.Duration(float64(time.Second) / fps)
	if epoch.IsZero() {
		epoch = time.Now()
	}
	return &Counter{period: period, epoch: epoch, next: 1}
}

// PeriodMicros returns the frame period in microseconds.
func (c *Counter) PeriodMicros() int64 {
	return c.period.Microseconds()
}

// WaitTick blocks until the next frame boundary and returns the frame id
// (1-based, strictly monotonic). It never skips ids even under schedule
// slip; callers that care about slip compare wall-clock timestamps
// themselves.
func (c *Counter) WaitTick(ctx context.Context) (int64, error) {
	id := c.next
	deadline := c.epoch.Add(time.Duration(id) * c.period)
	c.next++

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return id, ctx.Err()
		default:
		}
		if remaining <= clock.BusyTailThreshold {
			clock.BusyTail(remaining)
			return id, nil
		}
		wait := remaining
		const pollCap = 50 * time.Millisecond
		if wait > pollCap {
			wait = pollCap
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return id, ctx.Err()
		case <-timer.C:
		}
	}
}
