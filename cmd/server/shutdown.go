package main

import (
	"context"
	"time"
)

type drainer interface {
	Close(ctx context.Context) error
}

type stopper interface {
	Shutdown()
}

// drainThenStop lets queued conversation events finish, including the
// watcher restarts they trigger, before the scheduler stops accepting them.
func drainThenStop(disp drainer, scheduler stopper, grace time.Duration) error {
	closeCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	err := disp.Close(closeCtx)
	scheduler.Shutdown()
	return err
}
