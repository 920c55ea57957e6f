package container

import (
	"context"
	"sync"
	"time"
)

// TimeoutGuard bounds a single asynchronous operation with a deadline and an
// external cancellation signal. Each guard wraps exactly one operation;
// running it again returns ErrGuardUsed.
type TimeoutGuard struct {
	timeout time.Duration

	mu   sync.Mutex
	used bool

	cancel   chan struct{}
	stopOnce sync.Once
}

// NewTimeoutGuard creates a guard enforcing the given duration.
func NewTimeoutGuard(timeout time.Duration) *TimeoutGuard {
	return &TimeoutGuard{
		timeout: timeout,
		cancel:  make(chan struct{}),
	}
}

// Run races the operation against the deadline and the cancellation signal.
// Exactly one outcome fires: the operation's own result, ErrTimeout, or
// ErrCancelled. On timeout or cancellation the operation's context is
// cancelled so it can unwind cooperatively; a call blocked inside a backend
// request finishes that request before observing the cancellation.
func (g *TimeoutGuard) Run(ctx context.Context, op func(context.Context) error) error {
	g.mu.Lock()
	if g.used {
		g.mu.Unlock()
		return ErrGuardUsed
	}
	g.used = true
	g.mu.Unlock()

	opCtx, cancelOp := context.WithCancel(ctx)
	defer cancelOp()

	done := make(chan error, 1)
	go func() {
		done <- op(opCtx)
	}()

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		cancelOp()
		return ErrTimeout
	case <-g.cancel:
		cancelOp()
		return ErrCancelled
	}
}

// Start exposes the cancellation channel so callers outside the race (for
// example an orchestrator shutting down all sandboxes) can observe it.
func (g *TimeoutGuard) Start() <-chan struct{} {
	return g.cancel
}

// Stop fires the cancellation signal. Safe to call more than once.
func (g *TimeoutGuard) Stop() {
	g.stopOnce.Do(func() {
		close(g.cancel)
	})
}
