package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Provider pool errors
	ErrNoProviders        = errors.New("no providers configured")
	ErrProviderNotFound   = errors.New("provider not registered")
	ErrProvidersExhausted = errors.New("all providers exhausted")

	// Job queue errors
	ErrJobNotFound     = errors.New("job not found")
	ErrJobTerminal     = errors.New("job already in a terminal status")
	ErrStageTimeout    = errors.New("stage exceeded its time budget")
	ErrJobTimeout      = errors.New("job exceeded the absolute timeout")
	ErrRetriesExceeded = errors.New("retry budget exhausted")

	// Readiness monitor errors
	ErrCheckTimeout     = errors.New("health check timed out")
	ErrBadThresholds    = errors.New("recovery threshold must exceed degradation threshold")
	ErrCheckNameTaken   = errors.New("health check name already registered")
	ErrCheckNameMissing = errors.New("health check requires a name")
)
