package jobs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
)

// forceProcessing plants a job directly in processing with the given
// start time, simulating a worker that died mid-stage.
func forceProcessing(t *testing.T, q *Queue, startedAt time.Time) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &domain.Job{
		ID:             "stuck-" + testID(),
		TaskID:         "t",
		Category:       "news",
		Stage:          domain.StageGenerating,
		Status:         domain.JobProcessing,
		MaxRetries:     3,
		CreatedAt:      startedAt,
		StartedAt:      startedAt,
		StageStartedAt: startedAt,
	}
	q.jobs[job.ID] = job
	return job.ID
}

// ─── No-Hang Invariant ──────────────────────────────────────────────────────
// The single most important correctness property of the core: no code
// path may leave a job in processing past the absolute timeout.

func TestSweepStuck_KillsExpiredJob(t *testing.T) {
	q := newTestQueue(t, fastConfig(), nil)

	id := forceProcessing(t, q, time.Now().Add(-q.cfg.JobTimeout-time.Second))

	if killed := q.SweepStuck(); killed != 1 {
		t.Fatalf("SweepStuck = %d, want 1", killed)
	}

	job, _ := q.Get(id)
	if job.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(strings.ToLower(job.Error), "timeout") {
		t.Errorf("error %q must indicate a timeout", job.Error)
	}
	if job.CompletedAt.IsZero() {
		t.Error("watchdog must set completedAt")
	}
}

func TestSweepStuck_SparesHealthyJobs(t *testing.T) {
	q := newTestQueue(t, fastConfig(), nil)

	fresh := forceProcessing(t, q, time.Now())
	if killed := q.SweepStuck(); killed != 0 {
		t.Fatalf("SweepStuck = %d, want 0", killed)
	}
	job, _ := q.Get(fresh)
	if job.Status != domain.JobProcessing {
		t.Errorf("healthy job transitioned to %s", job.Status)
	}
}

func TestSweepStuck_IgnoresTerminalJobs(t *testing.T) {
	q := newTestQueue(t, fastConfig(), nil)

	id := forceProcessing(t, q, time.Now().Add(-time.Hour))
	q.mu.Lock()
	q.jobs[id].Status = domain.JobCompleted
	q.mu.Unlock()

	if killed := q.SweepStuck(); killed != 0 {
		t.Errorf("SweepStuck = %d on terminal jobs, want 0", killed)
	}
}

func TestSweepStuck_TimeoutIsTerminal(t *testing.T) {
	q := newTestQueue(t, fastConfig(), nil)

	id := forceProcessing(t, q, time.Now().Add(-time.Hour))
	q.SweepStuck()

	job, _ := q.Get(id)
	if job.RetryCount >= job.MaxRetries {
		t.Fatal("test assumes retry budget was not consumed")
	}
	// Watchdog kills are terminal even with retries remaining.
	if job.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed with no retry", job.Status)
	}
}

func TestWatchdog_PeriodicSweepResolvesStuckJob(t *testing.T) {
	cfg := fastConfig()
	cfg.JobTimeout = 100 * time.Millisecond
	cfg.WatchdogInterval = 20 * time.Millisecond

	q := newTestQueue(t, cfg, nil)
	id := forceProcessing(t, q, time.Now().Add(-time.Second))

	q.Start()
	defer q.Stop()

	waitForStatus(t, q, id, domain.JobFailed)
}

func TestWatchdog_StuckRunnerGetsKilled(t *testing.T) {
	// A runner that ignores its context entirely: the stage context
	// fires but the goroutine keeps blocking. The watchdog must still
	// resolve the job against the absolute bound.
	cfg := fastConfig()
	cfg.JobTimeout = 150 * time.Millisecond
	cfg.WatchdogInterval = 25 * time.Millisecond
	for _, s := range domain.Pipeline {
		cfg.StageTimeouts[s] = time.Hour // per-stage budget never fires
	}

	block := make(chan struct{})
	runner := func(ctx context.Context, job domain.Job, stage domain.Stage) error {
		if stage == domain.StageParsing {
			<-block
		}
		return nil
	}

	q := newTestQueue(t, cfg, runner)
	q.Start()
	defer func() {
		close(block)
		q.Stop()
	}()

	job := q.Enqueue(newsTask(domain.PriorityNormal))
	failed := waitForStatus(t, q, job.ID, domain.JobFailed)
	if !strings.Contains(strings.ToLower(failed.Error), "timeout") {
		t.Errorf("error %q must indicate a timeout", failed.Error)
	}
}
