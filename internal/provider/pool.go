// Package provider implements the AI backend pool with availability
// tracking, credit accounting, and weighted failover routing.
//
// Routing priority:
//  1. Available providers, ranked by a weighted score of remaining
//     credits, inverse load, and historical success rate.
//  2. Degraded providers (rate-limited or out of credits) — never the
//     primary choice, but always kept in the alternatives list so the
//     caller can detect total outage explicitly instead of by absence.
//  3. Ties broken by declared configuration order.
package provider

import (
	"sort"
	"sync"
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// BackendConfig declares one AI backend. Order of declaration is the
// tie-break priority order.
type BackendConfig struct {
	ID           string `toml:"id"`
	DailyCredits int    `toml:"daily_credits"`
	RateLimit    int    `toml:"rate_limit"` // requests per day
}

// Config configures the provider pool.
type Config struct {
	Backends  []BackendConfig `toml:"backends"`
	MaxLoad   int             `toml:"max_load"`   // in-flight requests before a backend reads unavailable
	EWMAAlpha float64         `toml:"ewma_alpha"` // weight of the newest outcome in the success rate
}

// DefaultConfig returns production pool defaults.
func DefaultConfig() Config {
	return Config{
		Backends: []BackendConfig{
			{ID: "primary", DailyCredits: 10_000, RateLimit: 5_000},
			{ID: "secondary", DailyCredits: 5_000, RateLimit: 2_500},
		},
		MaxLoad:   8,
		EWMAAlpha: 0.2,
	}
}

// Scoring weights for ranking available backends.
const (
	weightCredits = 0.40
	weightLoad    = 0.30
	weightSuccess = 0.30
)

// ─── Pool ───────────────────────────────────────────────────────────────────

// Pool tracks availability, rate limits, and remaining credits for
// each AI backend. It is the sole owner of every counter in the
// status table: callers read snapshots and report outcomes through
// UpdateStatus, never mutate directly.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	order   []string // declared priority order
	status  map[string]*domain.ProviderStatus
	initial map[string]BackendConfig
	now     func() time.Time // injectable clock for testing
}

// NewPool creates a pool with one status entry per configured backend.
// Every backend starts available with a full day of credits.
func NewPool(cfg Config) *Pool {
	if cfg.MaxLoad <= 0 {
		cfg.MaxLoad = 8
	}
	if cfg.EWMAAlpha <= 0 || cfg.EWMAAlpha > 1 {
		cfg.EWMAAlpha = 0.2
	}

	p := &Pool{
		cfg:     cfg,
		status:  make(map[string]*domain.ProviderStatus),
		initial: make(map[string]BackendConfig),
		now:     time.Now,
	}
	for _, b := range cfg.Backends {
		p.order = append(p.order, b.ID)
		p.initial[b.ID] = b
		p.status[b.ID] = &domain.ProviderStatus{
			ID:                 b.ID,
			Available:          true,
			RemainingCredits:   b.DailyCredits,
			RateLimitRemaining: b.RateLimit,
			SuccessRate:        1.0, // optimistic until evidence says otherwise
		}
		p.publish(p.status[b.ID])
	}
	return p
}

// ─── Selection ──────────────────────────────────────────────────────────────

// SelectProvider picks a backend for a task. For any non-empty pool it
// always returns a decision — never an error — even when every backend
// is degraded; in that case the top declared backend is returned
// best-effort and the reason records the degraded selection so the
// caller can treat the ensuing failure as total outage.
//
// Selection counts as a routing decision: the chosen backend's
// in-flight load is incremented and released by UpdateStatus.
func (p *Pool) SelectProvider(task domain.AITask) (domain.RoutingDecision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.order) == 0 {
		return domain.RoutingDecision{}, domain.ErrNoProviders
	}

	ranked := p.rankLocked()

	decision := domain.RoutingDecision{
		Provider: ranked[0].id,
		Reason:   "best-available",
	}
	if !ranked[0].available {
		decision.Reason = "degraded: no provider fully available, routing best-effort"
	}
	for _, c := range ranked[1:] {
		decision.Alternatives = append(decision.Alternatives, c.id)
	}
	if len(p.order) > 1 && len(decision.Alternatives) == 0 {
		// Defensive: a multi-backend pool must always expose failover targets.
		for _, id := range p.order {
			if id != decision.Provider {
				decision.Alternatives = append(decision.Alternatives, id)
			}
		}
	}

	// Routing decision mutates the table: the chosen backend carries
	// one more in-flight request until its completion callback.
	chosen := p.status[decision.Provider]
	chosen.CurrentLoad++
	p.recomputeLocked(chosen)

	metrics.ProviderSelections.WithLabelValues(decision.Provider, selectionLabel(ranked[0].available)).Inc()
	return decision, nil
}

func selectionLabel(available bool) string {
	if available {
		return "available"
	}
	return "degraded"
}

type candidate struct {
	id        string
	available bool
	score     float64
	declared  int
}

// rankLocked orders all backends best-first: available backends by
// weighted score, then degraded backends by declared order.
func (p *Pool) rankLocked() []candidate {
	candidates := make([]candidate, 0, len(p.order))
	for i, id := range p.order {
		s := p.status[id]
		candidates = append(candidates, candidate{
			id:        id,
			available: s.Available,
			score:     p.scoreLocked(s),
			declared:  i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.available != b.available {
			return a.available
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.declared < b.declared
	})
	return candidates
}

// scoreLocked computes the weighted match score for a backend.
// Higher score = better match.
//
// Weights: credits 40%, inverse load 30%, success history 30%.
func (p *Pool) scoreLocked(s *domain.ProviderStatus) float64 {
	init := p.initial[s.ID]

	credits := 0.0
	if init.DailyCredits > 0 && s.RemainingCredits > 0 {
		credits = float64(s.RemainingCredits) / float64(init.DailyCredits)
		if credits > 1 {
			credits = 1
		}
	}

	load := 1.0 - float64(s.CurrentLoad)/float64(p.cfg.MaxLoad)
	if load < 0 {
		load = 0
	}

	return weightCredits*credits + weightLoad*load + weightSuccess*s.SuccessRate
}

// ─── Status Updates ─────────────────────────────────────────────────────────

// UpdateStatus is the only mutator of a backend's counters. It releases
// one in-flight slot, burns creditsUsed credits and one rate-limit
// token, folds the outcome into the success EWMA, and recomputes
// availability.
func (p *Pool) UpdateStatus(id string, succeeded bool, creditsUsed int, latencyMs int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.status[id]
	if !ok {
		return domain.ErrProviderNotFound
	}

	if s.CurrentLoad > 0 {
		s.CurrentLoad--
	}
	s.RemainingCredits -= creditsUsed
	if s.RateLimitRemaining > 0 {
		s.RateLimitRemaining--
	}

	now := p.now()
	outcome := 0.0
	if succeeded {
		outcome = 1.0
		s.LastSuccessAt = now
	} else {
		s.LastErrorAt = now
	}
	s.SuccessRate = (1-p.cfg.EWMAAlpha)*s.SuccessRate + p.cfg.EWMAAlpha*outcome

	p.recomputeLocked(s)

	metrics.ProviderLatency.WithLabelValues(id).Observe(float64(latencyMs) / 1000.0)
	return nil
}

// recomputeLocked re-derives Available from current counters and
// publishes gauges. A backend whose most recent outcome was an error
// is demoted until it succeeds again; it stays in alternatives so
// failover can still probe it (idempotent re-check on use).
func (p *Pool) recomputeLocked(s *domain.ProviderStatus) {
	erroring := !s.LastErrorAt.IsZero() && s.LastErrorAt.After(s.LastSuccessAt)
	s.Available = s.RemainingCredits > 0 &&
		s.RateLimitRemaining > 0 &&
		s.CurrentLoad < p.cfg.MaxLoad &&
		!erroring
	p.publish(s)
}

func (p *Pool) publish(s *domain.ProviderStatus) {
	avail := 0.0
	if s.Available {
		avail = 1.0
	}
	metrics.ProviderAvailable.WithLabelValues(s.ID).Set(avail)
	metrics.ProviderCredits.WithLabelValues(s.ID).Set(float64(s.RemainingCredits))
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

// Status returns a read-only snapshot for one backend.
func (p *Pool) Status(id string) (domain.ProviderStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.status[id]; ok {
		return *s, true
	}
	return domain.ProviderStatus{}, false
}

// AllStatus returns snapshots for every backend in declared order.
func (p *Pool) AllStatus() []domain.ProviderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.ProviderStatus, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.status[id])
	}
	return out
}

// AvailableCount returns how many backends are currently available.
func (p *Pool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.status {
		if s.Available {
			n++
		}
	}
	return n
}

// Size returns the number of configured backends.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// ─── Daily Reset ────────────────────────────────────────────────────────────

// ResetDailyLimits restores every backend's credits and rate-limit
// counters to their configured values and re-evaluates availability.
// The daemon schedules this on the midnight-UTC boundary.
func (p *Pool) ResetDailyLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		s := p.status[id]
		init := p.initial[id]
		s.RemainingCredits = init.DailyCredits
		s.RateLimitRemaining = init.RateLimit
		p.recomputeLocked(s)
	}
}
