package jobs

import (
	"fmt"
	"log"
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/infra/metrics"
)

// SweepStuck scans processing jobs whose wall time has exceeded the
// absolute timeout and force-fails them. This is the mechanism that
// prevents a job from hanging indefinitely when an upstream provider
// call never returns or a worker dies mid-stage. Watchdog failures
// are terminal: no further retry.
//
// The sweep runs on an interval.Runner, so overlapping invocations
// are skipped rather than racing the same job set. Returns how many
// jobs were resolved.
func (q *Queue) SweepStuck() int {
	now := q.now()

	q.mu.Lock()
	var killed []domain.Job
	for _, job := range q.jobs {
		if job.Status != domain.JobProcessing {
			continue
		}
		stuckFor := now.Sub(job.StartedAt)
		if !job.StageStartedAt.IsZero() && now.Sub(job.StageStartedAt) > stuckFor {
			stuckFor = now.Sub(job.StageStartedAt)
		}
		if stuckFor <= q.cfg.JobTimeout {
			continue
		}

		q.failLocked(job, fmt.Sprintf("timeout: watchdog killed job stuck in %s for %s (limit %s)",
			job.Stage, stuckFor.Round(time.Second), q.cfg.JobTimeout), domain.ErrJobTimeout)
		if cancel, inFlight := q.cancels[job.ID]; inFlight {
			cancel()
		}
		killed = append(killed, *job)
	}
	q.mu.Unlock()

	for _, job := range killed {
		metrics.WatchdogKills.Inc()
		log.Printf("watchdog: killed job=%s stage=%s", job.ID, job.Stage)
		q.persist(job)
	}
	return len(killed)
}

// WatchdogRunning reports whether the periodic sweep is active.
func (q *Queue) WatchdogRunning() bool {
	return q.watchdog.Running()
}
