package graph

import (
	"context"
	"time"
)

// Waiter blocks between team creation and channel creation while the
// platform finishes provisioning the team.
type Waiter interface {
	Wait(ctx context.Context, d time.Duration) error
}

type SleepWaiter struct{}

func (SleepWaiter) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NoWait returns immediately.
type NoWait struct{}

func (NoWait) Wait(context.Context, time.Duration) error { return nil }
