// Package readiness continuously samples overall system health into a
// bounded state machine with hysteresis. Checks are registered by the
// composition root (provider availability, queue depth, failure rate,
// storage ping); the monitor aggregates them into one live verdict and
// tracks every degradation episode for MTTR statistics.
package readiness

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/infra/interval"
	"github.com/pressmesh/pressmesh/internal/infra/metrics"
)

// ─── States ─────────────────────────────────────────────────────────────────

// State is the aggregate system health verdict.
type State string

const (
	StateUnknown  State = "UNKNOWN" // before the first check completes
	StateReady    State = "READY"
	StateDegraded State = "DEGRADED"
	StateNotReady State = "NOT_READY"
)

func stateGauge(s State) float64 {
	switch s {
	case StateReady:
		return 1
	case StateDegraded:
		return 2
	case StateNotReady:
		return 3
	default:
		return 0
	}
}

// ─── Checks ─────────────────────────────────────────────────────────────────

// Check is a single registered health probe. Run returns a score in
// [0,100] and a human-readable detail; a non-nil error (or a panic)
// records a failing result, never propagates.
type Check struct {
	Name    string
	Timeout time.Duration // bound per check so one slow probe cannot stall the snapshot
	Run     func(ctx context.Context) (float64, string, error)
}

// Result is one check's outcome inside a snapshot.
type Result struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail,omitempty"`
}

// Snapshot is a point-in-time health sample. Immutable once created.
type Snapshot struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
	Score     float64   `json:"score"`
	Results   []Result  `json:"results"`
}

// Degradation is an interval during which the system was not READY.
type Degradation struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"` // zero while ongoing
	Checks    []string  `json:"checks"`             // contributing check names
}

// Ongoing reports whether the interval is still open.
func (d Degradation) Ongoing() bool { return d.EndedAt.IsZero() }

// Duration returns the closed interval length (0 while ongoing).
func (d Degradation) Duration() time.Duration {
	if d.Ongoing() {
		return 0
	}
	return d.EndedAt.Sub(d.StartedAt)
}

// Event is published to subscribers on every state transition.
type Event struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the monitor. RecoveryThreshold must exceed
// DegradationThreshold (hysteresis) — violating that is fatal at
// startup, not recoverable at runtime.
type Config struct {
	Enabled              bool          `toml:"enabled"`
	Interval             time.Duration `toml:"interval"`              // sampling period (default 15s)
	DegradationThreshold float64       `toml:"degradation_threshold"` // leave READY below this (default 70)
	RecoveryThreshold    float64       `toml:"recovery_threshold"`    // return to READY at or above this (default 85)
	NotReadyThreshold    float64       `toml:"not_ready_threshold"`   // DEGRADED worsens to NOT_READY below this (default 40)
	ConfirmWindow        int           `toml:"confirm_window"`        // consecutive bad samples before leaving READY (default 3)
	CheckTimeout         time.Duration `toml:"check_timeout"`         // default per-check bound (default 5s)
	HistorySize          int           `toml:"history_size"`          // snapshot ring capacity (default 120)
	MTTRWindow           int           `toml:"mttr_window"`           // closed degradations kept for stats (default 50)
}

// DefaultConfig returns production monitor defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		Interval:             15 * time.Second,
		DegradationThreshold: 70,
		RecoveryThreshold:    85,
		NotReadyThreshold:    40,
		ConfirmWindow:        3,
		CheckTimeout:         5 * time.Second,
		HistorySize:          120,
		MTTRWindow:           50,
	}
}

// ─── Monitor ────────────────────────────────────────────────────────────────

// Monitor runs the registered checks on a fixed interval and owns the
// readiness state machine.
type Monitor struct {
	mu     sync.Mutex
	cfg    Config
	checks []Check
	now    func() time.Time // injectable clock for testing

	state      State
	belowCount int // consecutive sub-threshold samples while READY

	history []Snapshot // ring buffer
	hIdx    int
	hFull   bool

	current     *Degradation
	closed      []Degradation // rolling window for MTTR
	degradSeq   int64
	subscribers map[int]func(Event)
	subSeq      int

	persist func(Snapshot) // optional sink wired by the daemon
	loop    *interval.Runner
}

// NewMonitor validates the configuration and creates a monitor in
// UNKNOWN state.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.DegradationThreshold <= 0 {
		cfg.DegradationThreshold = 70
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 85
	}
	if cfg.NotReadyThreshold <= 0 {
		cfg.NotReadyThreshold = 40
	}
	if cfg.ConfirmWindow <= 0 {
		cfg.ConfirmWindow = 3
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 120
	}
	if cfg.MTTRWindow <= 0 {
		cfg.MTTRWindow = 50
	}
	if cfg.RecoveryThreshold <= cfg.DegradationThreshold {
		return nil, fmt.Errorf("%w: recovery=%.1f degradation=%.1f",
			domain.ErrBadThresholds, cfg.RecoveryThreshold, cfg.DegradationThreshold)
	}

	m := &Monitor{
		cfg:         cfg,
		now:         time.Now,
		state:       StateUnknown,
		history:     make([]Snapshot, cfg.HistorySize),
		subscribers: make(map[int]func(Event)),
	}
	m.loop = interval.New("readiness", cfg.Interval, func(ctx context.Context) {
		m.CheckNow(ctx)
	})
	return m, nil
}

// Register adds a health check. Checks registered after StartMonitor
// take effect on the next sample.
func (m *Monitor) Register(c Check) error {
	if c.Name == "" {
		return domain.ErrCheckNameMissing
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checks {
		if existing.Name == c.Name {
			return domain.ErrCheckNameTaken
		}
	}
	if c.Timeout <= 0 {
		c.Timeout = m.cfg.CheckTimeout
	}
	m.checks = append(m.checks, c)
	return nil
}

// SetPersist wires an optional snapshot sink (e.g. the sqlite store).
func (m *Monitor) SetPersist(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist = fn
}

// ─── Sampling ───────────────────────────────────────────────────────────────

// CheckNow runs every registered check immediately and assembles a
// snapshot. It always returns a snapshot: a check that errors, times
// out, or panics is recorded as a failing result, not propagated.
func (m *Monitor) CheckNow(ctx context.Context) Snapshot {
	m.mu.Lock()
	checks := make([]Check, len(m.checks))
	copy(checks, m.checks)
	m.mu.Unlock()

	results := make([]Result, 0, len(checks))
	total := 0.0
	for _, c := range checks {
		results = append(results, runCheck(ctx, c))
	}
	for _, r := range results {
		total += r.Score
		v := 0.0
		if r.Passed {
			v = 1.0
		}
		metrics.CheckStatus.WithLabelValues(r.Name).Set(v)
	}

	score := 100.0 // no checks registered → nothing is known to be wrong
	if len(results) > 0 {
		score = total / float64(len(results))
	}

	m.mu.Lock()
	now := m.now()
	newState := m.transitionLocked(score, results, now)
	snap := Snapshot{
		ID:        uuid.NewString(),
		Timestamp: now,
		State:     newState,
		Score:     score,
		Results:   results,
	}
	m.history[m.hIdx] = snap
	m.hIdx++
	if m.hIdx >= m.cfg.HistorySize {
		m.hIdx = 0
		m.hFull = true
	}
	persist := m.persist
	m.mu.Unlock()

	metrics.ReadinessScore.Set(score)
	metrics.ReadinessState.Set(stateGauge(newState))
	if persist != nil {
		persist(snap)
	}
	return snap
}

// runCheck executes one check under its timeout, converting errors and
// panics into failing results.
func runCheck(ctx context.Context, c Check) (res Result) {
	res = Result{Name: c.Name}
	defer func() {
		if r := recover(); r != nil {
			res.Passed = false
			res.Score = 0
			res.Detail = fmt.Sprintf("check panicked: %v", r)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	type outcome struct {
		score  float64
		detail string
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		score, detail, err := c.Run(cctx)
		ch <- outcome{score: score, detail: detail, err: err}
	}()

	select {
	case <-cctx.Done():
		res.Detail = domain.ErrCheckTimeout.Error()
		return res
	case out := <-ch:
		if out.err != nil {
			res.Detail = out.err.Error()
			return res
		}
		if out.score < 0 {
			out.score = 0
		}
		if out.score > 100 {
			out.score = 100
		}
		res.Score = out.score
		res.Detail = out.detail
		res.Passed = out.score >= 50
		return res
	}
}

// transitionLocked applies one sample to the state machine and returns
// the resulting state. Must hold m.mu.
func (m *Monitor) transitionLocked(score float64, results []Result, now time.Time) State {
	prev := m.state
	next := prev

	switch prev {
	case StateUnknown:
		next = m.classifyLocked(score)
	case StateReady:
		if score < m.cfg.DegradationThreshold {
			m.belowCount++
			if m.belowCount >= m.cfg.ConfirmWindow {
				next = m.classifyLocked(score)
			}
		} else {
			m.belowCount = 0
		}
	case StateDegraded, StateNotReady:
		// Hysteresis: recovery demands a strictly higher bar than the
		// one that triggered degradation.
		if score >= m.cfg.RecoveryThreshold {
			next = StateReady
		} else if score < m.cfg.NotReadyThreshold {
			next = StateNotReady
		} else {
			next = StateDegraded
		}
	}

	if next == prev {
		if m.current != nil {
			m.mergeContributorsLocked(results)
		}
		return next
	}

	m.state = next
	m.belowCount = 0

	// Bookkeeping for degradation intervals.
	if prev == StateReady || prev == StateUnknown {
		if next != StateReady && m.current == nil {
			m.degradSeq++
			m.current = &Degradation{
				ID:        fmt.Sprintf("DEG-%06d", m.degradSeq),
				StartedAt: now,
			}
			m.mergeContributorsLocked(results)
		}
	}
	if next == StateReady && m.current != nil {
		m.current.EndedAt = now
		m.closed = append(m.closed, *m.current)
		if len(m.closed) > m.cfg.MTTRWindow {
			m.closed = m.closed[len(m.closed)-m.cfg.MTTRWindow:]
		}
		m.current = nil
	}

	metrics.ReadinessTransitions.WithLabelValues(string(prev), string(next)).Inc()
	log.Printf("readiness: state %s -> %s score=%.1f", prev, next, score)

	ev := Event{From: prev, To: next, At: now}
	for _, fn := range m.subscribers {
		go fn(ev)
	}
	return next
}

func (m *Monitor) classifyLocked(score float64) State {
	switch {
	case score >= m.cfg.DegradationThreshold:
		return StateReady
	case score < m.cfg.NotReadyThreshold:
		return StateNotReady
	default:
		return StateDegraded
	}
}

// mergeContributorsLocked records failing check names on the open
// degradation interval.
func (m *Monitor) mergeContributorsLocked(results []Result) {
	if m.current == nil {
		return
	}
	for _, r := range results {
		if r.Passed {
			continue
		}
		seen := false
		for _, name := range m.current.Checks {
			if name == r.Name {
				seen = true
				break
			}
		}
		if !seen {
			m.current.Checks = append(m.current.Checks, r.Name)
		}
	}
}

// ─── Loop Control ───────────────────────────────────────────────────────────

// StartMonitor begins the recurring sampling loop. No-op when the
// monitor is disabled by configuration; idempotent otherwise.
func (m *Monitor) StartMonitor() {
	if !m.cfg.Enabled {
		return
	}
	m.loop.Start()
}

// StopMonitor halts the sampling loop. Idempotent.
func (m *Monitor) StopMonitor() {
	m.loop.Stop()
}

// MonitorStatus reports loop and configuration state for the
// operational endpoint.
type MonitorStatus struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
}

// GetMonitorStatus returns the loop status.
func (m *Monitor) GetMonitorStatus() MonitorStatus {
	return MonitorStatus{
		Enabled:  m.cfg.Enabled,
		Running:  m.loop.Running(),
		Interval: m.cfg.Interval,
	}
}

// ─── Read Access ────────────────────────────────────────────────────────────

// GetCurrentState returns the live state machine verdict.
func (m *Monitor) GetCurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetLastSnapshot returns the most recent snapshot, if any.
func (m *Monitor) GetLastSnapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hFull && m.hIdx == 0 {
		return Snapshot{}, false
	}
	idx := m.hIdx - 1
	if idx < 0 {
		idx = m.cfg.HistorySize - 1
	}
	return m.history[idx], true
}

// GetSnapshotHistory returns recent snapshots, newest first, up to the
// ring capacity.
func (m *Monitor) GetSnapshotHistory(limit int) []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.hIdx
	if m.hFull {
		count = m.cfg.HistorySize
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	out := make([]Snapshot, 0, limit)
	idx := m.hIdx
	for i := 0; i < limit; i++ {
		idx--
		if idx < 0 {
			idx = m.cfg.HistorySize - 1
		}
		out = append(out, m.history[idx])
	}
	return out
}

// GetActiveDegradations returns the open interval, if one exists.
func (m *Monitor) GetActiveDegradations() []Degradation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return []Degradation{*m.current}
}

// Subscribe registers a listener invoked on every state transition.
// Returns an unsubscribe function.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSeq++
	id := m.subSeq
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}
