package readiness

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.CheckTimeout = 100 * time.Millisecond
	cfg.ConfirmWindow = 3
	return cfg
}

// scoredCheck returns a check whose score is read from the given
// atomic value, letting tests steer health between samples.
func scoredCheck(name string, score *atomic.Int64) Check {
	return Check{
		Name: name,
		Run: func(ctx context.Context) (float64, string, error) {
			return float64(score.Load()), "", nil
		},
	}
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := NewMonitor(cfg)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	t.Cleanup(m.StopMonitor)
	return m
}

func TestNewMonitor_RejectsInvertedThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.DegradationThreshold = 90
	cfg.RecoveryThreshold = 70

	_, err := NewMonitor(cfg)
	if !errors.Is(err, domain.ErrBadThresholds) {
		t.Fatalf("expected ErrBadThresholds, got %v", err)
	}
}

func TestMonitor_InitialStateUnknown(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	if got := m.GetCurrentState(); got != StateUnknown {
		t.Fatalf("initial state = %s, want %s", got, StateUnknown)
	}
	if _, ok := m.GetLastSnapshot(); ok {
		t.Fatal("expected no snapshot before first check")
	}
}

func TestMonitor_FirstSampleClassifies(t *testing.T) {
	tests := []struct {
		name  string
		score int64
		want  State
	}{
		{"healthy", 95, StateReady},
		{"degraded", 55, StateDegraded},
		{"critical", 10, StateNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(t, testConfig())
			var score atomic.Int64
			score.Store(tt.score)
			if err := m.Register(scoredCheck("pool", &score)); err != nil {
				t.Fatalf("Register: %v", err)
			}

			snap := m.CheckNow(context.Background())
			if snap.State != tt.want {
				t.Fatalf("state = %s, want %s", snap.State, tt.want)
			}
		})
	}
}

func TestMonitor_ConfirmWindowBeforeDegrading(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background()) // READY

	// Two bad samples are not enough with a confirm window of three.
	score.Store(50)
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())
	if got := m.GetCurrentState(); got != StateReady {
		t.Fatalf("state after 2 bad samples = %s, want %s", got, StateReady)
	}

	m.CheckNow(context.Background())
	if got := m.GetCurrentState(); got != StateDegraded {
		t.Fatalf("state after 3 bad samples = %s, want %s", got, StateDegraded)
	}
}

func TestMonitor_GoodSampleResetsConfirmWindow(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background())

	score.Store(50)
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())
	score.Store(95)
	m.CheckNow(context.Background()) // streak broken
	score.Store(50)
	m.CheckNow(context.Background())
	m.CheckNow(context.Background())

	if got := m.GetCurrentState(); got != StateReady {
		t.Fatalf("state = %s, want %s (streak should reset)", got, StateReady)
	}
}

func TestMonitor_HysteresisPreventsOscillation(t *testing.T) {
	// A score sitting between the degradation threshold (70) and the
	// recovery threshold (85) must not flip the state back to READY.
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background())

	score.Store(40)
	for i := 0; i < 3; i++ {
		m.CheckNow(context.Background())
	}
	if got := m.GetCurrentState(); got != StateDegraded {
		t.Fatalf("state = %s, want %s", got, StateDegraded)
	}

	score.Store(78) // above degradation, below recovery
	for i := 0; i < 5; i++ {
		m.CheckNow(context.Background())
		if got := m.GetCurrentState(); got != StateDegraded {
			t.Fatalf("sample %d: state = %s, want %s (hysteresis)", i, got, StateDegraded)
		}
	}

	score.Store(90)
	m.CheckNow(context.Background())
	if got := m.GetCurrentState(); got != StateReady {
		t.Fatalf("state = %s, want %s after recovery", got, StateReady)
	}
}

func TestMonitor_DegradedWorsensToNotReady(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background())

	score.Store(55)
	for i := 0; i < 3; i++ {
		m.CheckNow(context.Background())
	}
	if got := m.GetCurrentState(); got != StateDegraded {
		t.Fatalf("state = %s, want %s", got, StateDegraded)
	}

	score.Store(5)
	m.CheckNow(context.Background())
	if got := m.GetCurrentState(); got != StateNotReady {
		t.Fatalf("state = %s, want %s", got, StateNotReady)
	}
}

func TestMonitor_PanickingCheckRecordsFailure(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	if err := m.Register(Check{
		Name: "storage",
		Run: func(ctx context.Context) (float64, string, error) {
			panic("sqlite gone")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	snap := m.CheckNow(context.Background())
	if len(snap.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(snap.Results))
	}
	r := snap.Results[0]
	if r.Passed {
		t.Fatal("panicking check should be recorded as failing")
	}
	if !strings.Contains(r.Detail, "panicked") {
		t.Fatalf("detail = %q, want mention of panic", r.Detail)
	}
	if snap.State != StateNotReady {
		t.Fatalf("state = %s, want %s with the sole check failing", snap.State, StateNotReady)
	}
}

func TestMonitor_SlowCheckTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.CheckTimeout = 20 * time.Millisecond
	m := newTestMonitor(t, cfg)
	if err := m.Register(Check{
		Name: "slow",
		Run: func(ctx context.Context) (float64, string, error) {
			<-ctx.Done()
			time.Sleep(time.Hour) // ignores cancellation on purpose
			return 100, "", nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan Snapshot, 1)
	go func() { done <- m.CheckNow(context.Background()) }()

	select {
	case snap := <-done:
		if snap.Results[0].Passed {
			t.Fatal("timed-out check should fail")
		}
		if !strings.Contains(snap.Results[0].Detail, "timed out") {
			t.Fatalf("detail = %q, want timeout mention", snap.Results[0].Detail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("CheckNow blocked on a slow check")
	}
}

func TestMonitor_RegisterValidation(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(scoredCheck("pool", &score)); !errors.Is(err, domain.ErrCheckNameTaken) {
		t.Fatalf("expected ErrCheckNameTaken, got %v", err)
	}
	if err := m.Register(Check{}); !errors.Is(err, domain.ErrCheckNameMissing) {
		t.Fatalf("expected ErrCheckNameMissing, got %v", err)
	}
}

func TestMonitor_DegradationIntervalLifecycle(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background())

	score.Store(30)
	for i := 0; i < 3; i++ {
		clock = clock.Add(15 * time.Second)
		m.CheckNow(context.Background())
	}

	active := m.GetActiveDegradations()
	if len(active) != 1 {
		t.Fatalf("expected 1 active degradation, got %d", len(active))
	}
	if !active[0].Ongoing() {
		t.Fatal("active degradation should be ongoing")
	}
	if len(active[0].Checks) != 1 || active[0].Checks[0] != "pool" {
		t.Fatalf("contributors = %v, want [pool]", active[0].Checks)
	}

	score.Store(95)
	clock = clock.Add(2 * time.Minute)
	m.CheckNow(context.Background())

	if got := m.GetActiveDegradations(); got != nil {
		t.Fatalf("expected no active degradation after recovery, got %v", got)
	}
	closed := m.GetDegradationHistory(0)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed degradation, got %d", len(closed))
	}
	if closed[0].Duration() != 2*time.Minute {
		t.Fatalf("duration = %s, want 2m", closed[0].Duration())
	}
}

func TestMonitor_MTTRStats(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	m.now = func() time.Time { return clock }

	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.CheckNow(context.Background())

	// Three episodes recovering after 1m, 2m and 10m.
	for _, recovery := range []time.Duration{time.Minute, 2 * time.Minute, 10 * time.Minute} {
		score.Store(30)
		for i := 0; i < 3; i++ {
			m.CheckNow(context.Background())
		}
		clock = clock.Add(recovery)
		score.Store(95)
		m.CheckNow(context.Background())
	}

	stats := m.GetMTTRStats()
	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3", stats.Count)
	}
	wantAvg := (time.Minute + 2*time.Minute + 10*time.Minute) / 3
	if stats.Average != wantAvg {
		t.Fatalf("average = %s, want %s", stats.Average, wantAvg)
	}
	if stats.P50 != 2*time.Minute {
		t.Fatalf("p50 = %s, want 2m", stats.P50)
	}
	if stats.Longest != 10*time.Minute {
		t.Fatalf("longest = %s, want 10m", stats.Longest)
	}
}

func TestMonitor_MTTRStatsEmpty(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	stats := m.GetMTTRStats()
	if stats.Count != 0 || stats.Average != 0 || stats.P95 != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestMonitor_SubscribeAndUnsubscribe(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events := make(chan Event, 8)
	unsub := m.Subscribe(func(ev Event) { events <- ev })

	m.CheckNow(context.Background()) // UNKNOWN -> READY
	select {
	case ev := <-events:
		if ev.From != StateUnknown || ev.To != StateReady {
			t.Fatalf("event = %s->%s, want UNKNOWN->READY", ev.From, ev.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsub()
	score.Store(10)
	for i := 0; i < 3; i++ {
		m.CheckNow(context.Background())
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event after unsubscribe: %s->%s", ev.From, ev.To)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_HistoryNewestFirstAndBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 5
	m := newTestMonitor(t, cfg)
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var last Snapshot
	for i := 0; i < 8; i++ {
		last = m.CheckNow(context.Background())
	}

	hist := m.GetSnapshotHistory(0)
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want ring capacity 5", len(hist))
	}
	if hist[0].ID != last.ID {
		t.Fatal("history[0] should be the most recent snapshot")
	}
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	var score atomic.Int64
	score.Store(95)
	if err := m.Register(scoredCheck("pool", &score)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.StartMonitor()
	m.StartMonitor()
	if !m.GetMonitorStatus().Running {
		t.Fatal("monitor should be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.GetLastSnapshot(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("loop never produced a snapshot")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.StopMonitor()
	m.StopMonitor()
	if m.GetMonitorStatus().Running {
		t.Fatal("monitor should be stopped")
	}
}

func TestMonitor_DisabledStartIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	m := newTestMonitor(t, cfg)

	m.StartMonitor()
	status := m.GetMonitorStatus()
	if status.Enabled || status.Running {
		t.Fatalf("disabled monitor should not run, got %+v", status)
	}
}

func TestMonitor_NoChecksScoresPerfect(t *testing.T) {
	m := newTestMonitor(t, testConfig())
	snap := m.CheckNow(context.Background())
	if snap.Score != 100 {
		t.Fatalf("score = %.1f, want 100 with no checks", snap.Score)
	}
	if snap.State != StateReady {
		t.Fatalf("state = %s, want %s", snap.State, StateReady)
	}
}
