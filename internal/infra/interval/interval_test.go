package interval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_StartIsIdempotent(t *testing.T) {
	var runs atomic.Int64
	r := New("test", time.Hour, func(ctx context.Context) {
		runs.Add(1)
	})
	defer r.Stop()

	r.Start()
	r.Start()
	r.Start()

	// Only the first Start should have fired the immediate tick.
	waitFor(t, func() bool { return runs.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("runs = %d after repeated Start, want 1", got)
	}
}

func TestRunner_StopIsIdempotent(t *testing.T) {
	r := New("test", time.Hour, func(ctx context.Context) {})
	r.Start()
	r.Stop()
	r.Stop() // must not panic or block

	if r.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestRunner_RunsPeriodically(t *testing.T) {
	var runs atomic.Int64
	r := New("test", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	r.Start()
	defer r.Stop()

	waitFor(t, func() bool { return runs.Load() >= 3 })
}

func TestRunner_SkipsReentrantTick(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	r := New("test", time.Hour, func(ctx context.Context) {
		close(started)
		<-block
	})

	go r.Tick(context.Background())
	<-started

	// Second tick while the first is in flight must be skipped.
	if r.Tick(context.Background()) {
		t.Error("reentrant Tick ran, want skip")
	}
	if r.Skipped() != 1 {
		t.Errorf("Skipped() = %d, want 1", r.Skipped())
	}

	close(block)
	waitFor(t, func() bool { return r.Ticks() == 1 })

	// After the first tick completes, ticks run again.
	if !r.Tick(context.Background()) {
		t.Error("Tick after completion was skipped")
	}
}

func TestRunner_StopWaitsForInflightTick(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	r := New("test", time.Hour, func(ctx context.Context) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		finished.Store(true)
	})
	r.Start()

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	r.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the in-flight tick finished")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
