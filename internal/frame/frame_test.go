package frame

import (
	"context"
	"testing"
	"time"
)

func TestWaitTickReturnsStrictlyIncreasingIDs(t *testing.T) {
	c := New(1000, time.Now()) // 1ms period keeps the test fast
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		id, err := c.WaitTick(ctx)
		if err != nil {
			t.Fatalf("WaitTick: %v", err)
		}
		if id != prev+1 {
			t.Fatalf("expected frame id %d, got %d", prev+1, id)
		}
		prev = id
	}
}

func TestWaitTickRespectsContextCancellation(t *testing.T) {
	c := New(1, time.Now().Add(time.Hour)) // next tick is an hour away
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.WaitTick(ctx); err == nil {
		t.Fatalf("expected WaitTick to return an error for a cancelled context")
	}
}

func TestPeriodMicros(t *testing.T) {
	c := New(1000, time.Now())
	if got := c.PeriodMicros(); got != 1000 {
		t.Fatalf("expected 1000us period for 1000fps, got %d", got)
	}
}
