package domain

import "time"

// ProviderStatus is one entry per registered AI backend. Owned
// exclusively by the provider pool — callers read snapshots, never
// mutate. Credits and rate-limit counters reset on a daily boundary.
type ProviderStatus struct {
	ID                 string    `json:"id"`
	Available          bool      `json:"available"`
	CurrentLoad        int       `json:"current_load"` // in-flight request count
	RemainingCredits   int       `json:"remaining_credits"`
	RateLimitRemaining int       `json:"rate_limit_remaining"`
	SuccessRate        float64   `json:"success_rate"` // EWMA over recent outcomes [0,1]
	LastSuccessAt      time.Time `json:"last_success_at,omitempty"`
	LastErrorAt        time.Time `json:"last_error_at,omitempty"`
}

// RoutingDecision is the transient result of provider selection.
// Alternatives are ordered best-first and always include degraded
// providers as last resorts so total outage is detectable explicitly.
type RoutingDecision struct {
	Provider     string   `json:"provider"`
	Alternatives []string `json:"alternatives"`
	Reason       string   `json:"reason"`
}
