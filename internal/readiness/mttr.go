package readiness

import (
	"sort"
	"time"
)

// MTTRStats summarizes time-to-recovery over the rolling window of
// closed degradation intervals.
type MTTRStats struct {
	Count   int           `json:"count"`
	Average time.Duration `json:"average"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	Longest time.Duration `json:"longest"`
}

// GetMTTRStats computes recovery statistics from closed degradations.
// Ongoing intervals do not contribute until they close.
func (m *Monitor) GetMTTRStats() MTTRStats {
	m.mu.Lock()
	durations := make([]time.Duration, 0, len(m.closed))
	for _, d := range m.closed {
		durations = append(durations, d.Duration())
	}
	m.mu.Unlock()

	stats := MTTRStats{Count: len(durations)}
	if len(durations) == 0 {
		return stats
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	var total time.Duration
	for _, d := range durations {
		total += d
	}
	stats.Average = total / time.Duration(len(durations))
	stats.P50 = percentile(durations, 0.50)
	stats.P95 = percentile(durations, 0.95)
	stats.Longest = durations[len(durations)-1]
	return stats
}

// GetDegradationHistory returns closed intervals, newest first.
func (m *Monitor) GetDegradationHistory(limit int) []Degradation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.closed) {
		limit = len(m.closed)
	}
	out := make([]Degradation, 0, limit)
	for i := len(m.closed) - 1; i >= len(m.closed)-limit; i-- {
		out = append(out, m.closed[i])
	}
	return out
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
