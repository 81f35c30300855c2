// Package interval provides a fixed-period loop with idempotent
// Start/Stop and a skip-if-running reentrancy guard. The watchdog
// sweep and the readiness sampling loop both run on it, so a slow
// tick can never pile up concurrent invocations against the same
// job or check set.
package interval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Runner invokes fn every period until stopped. A tick that arrives
// while the previous fn is still executing is skipped, not queued.
type Runner struct {
	mu      sync.Mutex
	name    string
	period  time.Duration
	fn      func(ctx context.Context)
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	inTick  atomic.Bool
	ticks   atomic.Int64
	skipped atomic.Int64
}

// New creates a runner. fn runs once immediately on Start, then every
// period.
func New(name string, period time.Duration, fn func(ctx context.Context)) *Runner {
	return &Runner{name: name, period: period, fn: fn}
}

// Start launches the loop. Calling Start on a running runner has no
// additional effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx, r.done)
}

// Stop halts the loop and waits for an in-flight tick to finish.
// Stopping a stopped runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	done := r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the loop is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Ticks returns how many times fn has actually run.
func (r *Runner) Ticks() int64 { return r.ticks.Load() }

// Skipped returns how many ticks were dropped by the reentrancy guard.
func (r *Runner) Skipped() int64 { return r.skipped.Load() }

// Tick runs fn once, honoring the reentrancy guard. Exposed so tests
// and operator endpoints can force a sweep without waiting a period.
func (r *Runner) Tick(ctx context.Context) bool {
	if !r.inTick.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		return false
	}
	defer r.inTick.Store(false)
	r.ticks.Add(1)
	r.fn(ctx)
	return true
}

func (r *Runner) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Run immediately on start, then on the ticker.
	r.Tick(ctx)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}
