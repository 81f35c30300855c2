// Package jobs owns the lifecycle of background jobs moving through
// the fixed editorial pipeline. Workers advance stages under per-stage
// and absolute timeouts; the watchdog force-fails anything stuck past
// the absolute bound so no job can hang forever.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/fallback"
	"github.com/pressmesh/pressmesh/internal/infra/interval"
	"github.com/pressmesh/pressmesh/internal/infra/metrics"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the job queue and its watchdog.
type Config struct {
	Workers          int                            // concurrent stage executors (default 2)
	MaxRetries       int                            // default retry budget per job (default 3)
	StageTimeouts    map[domain.Stage]time.Duration // per-stage budgets
	JobTimeout       time.Duration                  // absolute wall-time bound per job (default 5m)
	WatchdogInterval time.Duration                  // sweep period, must stay under JobTimeout (default 30s)
	RetryBaseDelay   time.Duration                  // initial backoff, doubles each retry (default 1s)
	RetryMaxDelay    time.Duration                  // backoff cap (default 30s)
	StarvationBoost  time.Duration                  // queue age that improves priority one class (default 60s)
}

// DefaultConfig returns production queue defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          2,
		MaxRetries:       3,
		StageTimeouts:    DefaultStageTimeouts(),
		JobTimeout:       5 * time.Minute,
		WatchdogInterval: 30 * time.Second,
		RetryBaseDelay:   1 * time.Second,
		RetryMaxDelay:    30 * time.Second,
		StarvationBoost:  60 * time.Second,
	}
}

// StageRunner executes one stage of one job. The context carries the
// per-stage timeout. Returning an error fails the attempt; wrapping
// domain.ErrProvidersExhausted marks provider outage for the fallback.
type StageRunner func(ctx context.Context, job domain.Job, stage domain.Stage) error

// AuditStore persists job records for audit and metrics. Satisfied by
// the sqlite store; nil disables persistence.
type AuditStore interface {
	UpsertJob(domain.Job) error
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// Queue is the job queue and watchdog. Construct one per process and
// hand it to the HTTP layer and workers by reference — no globals.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	runner StageRunner
	fb     *fallback.Handler
	store  AuditStore
	now    func() time.Time // injectable clock for testing

	jobs    map[string]*domain.Job
	pending []string                      // ids awaiting a worker
	cancels map[string]context.CancelFunc // in-flight stage contexts
	results map[string]fallback.Response  // terminal-failure envelopes

	wake    chan struct{}
	paused  bool
	running bool
	stop    context.CancelFunc
	done    sync.WaitGroup

	watchdog *interval.Runner
}

// NewQueue creates a queue. runner executes stages; fb supplies the
// failure envelopes; store may be nil.
func NewQueue(cfg Config, runner StageRunner, fb *fallback.Handler, store AuditStore) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.StageTimeouts) == 0 {
		cfg.StageTimeouts = DefaultStageTimeouts()
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.WatchdogInterval <= 0 || cfg.WatchdogInterval >= cfg.JobTimeout {
		cfg.WatchdogInterval = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 1 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.StarvationBoost <= 0 {
		cfg.StarvationBoost = 60 * time.Second
	}

	q := &Queue{
		cfg:     cfg,
		runner:  runner,
		fb:      fb,
		store:   store,
		now:     time.Now,
		jobs:    make(map[string]*domain.Job),
		cancels: make(map[string]context.CancelFunc),
		results: make(map[string]fallback.Response),
		wake:    make(chan struct{}, 1),
	}
	q.watchdog = interval.New("watchdog", cfg.WatchdogInterval, func(ctx context.Context) {
		q.SweepStuck()
	})
	return q
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start launches the worker loops and the watchdog. Idempotent.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.stop = cancel
	q.running = true
	workers := q.cfg.Workers
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		q.done.Add(1)
		go q.workerLoop(ctx)
	}
	q.watchdog.Start()
}

// Stop halts workers and the watchdog, waiting for in-flight stages.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	stop := q.stop
	q.mu.Unlock()

	stop()
	q.watchdog.Stop()
	q.done.Wait()
}

// Pause stops dispatching new work. In-flight stages finish normally.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Resume re-enables dispatch.
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.signal()
}

// Mode reports the worker mode for the operational endpoint:
// "paused", "processing", or "idle".
func (q *Queue) Mode() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return "paused"
	}
	if len(q.cancels) > 0 {
		return "processing"
	}
	return "idle"
}

// Paused reports whether dispatch is paused.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Running reports whether the worker loops are active.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// ─── Enqueue / Cancel / Lookup ──────────────────────────────────────────────

// Enqueue creates a job in pending for the given task.
func (q *Queue) Enqueue(task domain.AITask) domain.Job {
	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}

	q.mu.Lock()
	job := &domain.Job{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		Category:   task.Category,
		Stage:      domain.StagePending,
		Status:     domain.JobPending,
		Priority:   task.Priority,
		MaxRetries: maxRetries,
		CreatedAt:  q.now(),
	}
	q.jobs[job.ID] = job
	q.pending = append(q.pending, job.ID)
	snapshot := *job
	q.mu.Unlock()

	metrics.JobsEnqueued.WithLabelValues(job.Category).Inc()
	q.persist(snapshot)
	q.signal()
	return snapshot
}

// Cancel marks a non-terminal job cancelled. The worker stops
// advancing its stages at the next scheduling opportunity
// (cooperative, not preemptive).
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if job.IsTerminal() {
		q.mu.Unlock()
		return domain.ErrJobTerminal
	}
	job.Status = domain.JobCancelled
	job.CompletedAt = q.now()
	if cancel, inFlight := q.cancels[id]; inFlight {
		cancel()
	}
	snapshot := *job
	q.mu.Unlock()

	q.persist(snapshot)
	return nil
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id string) (domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[id]; ok {
		return *job, true
	}
	return domain.Job{}, false
}

// Recent returns up to limit jobs, newest first.
func (q *Queue) Recent(limit int) []domain.Job {
	q.mu.Lock()
	all := make([]domain.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		all = append(all, *job)
	}
	q.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// FailureResponse returns the fallback envelope generated when a job
// failed terminally, if any.
func (q *Queue) FailureResponse(id string) (fallback.Response, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	resp, ok := q.results[id]
	return resp, ok
}

// ─── Metrics ────────────────────────────────────────────────────────────────

// Stats is a point-in-time aggregate safe to poll at high frequency.
type Stats struct {
	QueueDepth      int     `json:"queue_depth"`
	FailedLast24h   int     `json:"failed_last_24h"`
	AvgDurationMs   float64 `json:"avg_duration_ms"`
	PendingCount    int     `json:"pending_count"`
	ProcessingCount int     `json:"processing_count"`
	CompletedCount  int     `json:"completed_count"`
}

// Metrics returns current queue statistics.
func (q *Queue) Metrics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var st Stats
	cutoff := q.now().Add(-24 * time.Hour)
	var totalMs float64
	var completed int
	for _, job := range q.jobs {
		switch job.Status {
		case domain.JobPending:
			st.PendingCount++
		case domain.JobProcessing:
			st.ProcessingCount++
		case domain.JobCompleted:
			st.CompletedCount++
			completed++
			totalMs += float64(job.Duration().Milliseconds())
		case domain.JobFailed:
			if job.CompletedAt.After(cutoff) {
				st.FailedLast24h++
			}
		}
	}
	st.QueueDepth = st.PendingCount
	if completed > 0 {
		st.AvgDurationMs = totalMs / float64(completed)
	}

	metrics.QueueDepth.Set(float64(st.QueueDepth))
	metrics.JobsProcessing.Set(float64(st.ProcessingCount))
	return st
}

// ─── Worker Loop ────────────────────────────────────────────────────────────

func (q *Queue) workerLoop(ctx context.Context) {
	defer q.done.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}

		for {
			job, ok := q.claim()
			if !ok {
				break
			}
			q.advance(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// claim pops the best pending job and moves it to processing.
// Priority-influenced, not FIFO-strict: lower class first, with an age
// boost so low-priority work cannot starve.
func (q *Queue) claim() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused || len(q.pending) == 0 {
		return "", false
	}

	now := q.now()
	best := -1
	bestEff := math.MaxInt
	for i, id := range q.pending {
		job, ok := q.jobs[id]
		if !ok || job.Status != domain.JobPending {
			continue
		}
		eff := job.Priority - int(now.Sub(job.CreatedAt)/q.cfg.StarvationBoost)
		if eff < 0 {
			eff = 0
		}
		if eff < bestEff {
			bestEff = eff
			best = i
		}
	}
	if best < 0 {
		q.pending = q.pending[:0]
		return "", false
	}

	id := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)

	job := q.jobs[id]
	job.Status = domain.JobProcessing
	job.StartedAt = now
	job.Stage = domain.StagePending
	job.StageStartedAt = now
	return id, true
}

// advance walks a job through the pipeline until it completes, fails,
// or is cancelled.
func (q *Queue) advance(ctx context.Context, id string) {
	for {
		q.mu.Lock()
		job, ok := q.jobs[id]
		if !ok || job.IsTerminal() {
			q.mu.Unlock()
			return
		}

		// Absolute bound regardless of per-stage budgets: a job split
		// across many stages must not exceed a reasonable total.
		now := q.now()
		if now.Sub(job.StartedAt) > q.cfg.JobTimeout {
			q.failLocked(job, fmt.Sprintf("timeout: job exceeded absolute limit of %s", q.cfg.JobTimeout), domain.ErrJobTimeout)
			snapshot := *job
			q.mu.Unlock()
			q.persist(snapshot)
			return
		}

		next, hasNext := domain.NextStage(job.Stage)
		if !hasNext || next == domain.StageCompleted {
			job.Stage = domain.StageCompleted
			job.Status = domain.JobCompleted
			job.CompletedAt = now
			snapshot := *job
			q.mu.Unlock()

			metrics.JobsCompleted.WithLabelValues(snapshot.Category).Inc()
			metrics.JobDuration.Observe(snapshot.Duration().Seconds())
			q.persist(snapshot)
			return
		}

		job.Stage = next
		job.StageStartedAt = now
		snapshot := *job

		budget := q.cfg.StageTimeouts[next]
		if budget <= 0 {
			budget = 60 * time.Second
		}
		remaining := q.cfg.JobTimeout - now.Sub(job.StartedAt)
		if remaining < budget {
			budget = remaining
		}

		stageCtx, cancel := context.WithTimeout(ctx, budget)
		q.cancels[id] = cancel
		q.mu.Unlock()

		stageStart := time.Now()
		err := q.runStage(stageCtx, snapshot, next)
		cancel()
		metrics.StageDuration.WithLabelValues(string(next)).Observe(time.Since(stageStart).Seconds())

		q.mu.Lock()
		delete(q.cancels, id)
		job, ok = q.jobs[id]
		if !ok || job.IsTerminal() {
			// Cancelled (or force-failed by the watchdog) mid-stage.
			q.mu.Unlock()
			return
		}

		if err == nil {
			q.mu.Unlock()
			continue
		}

		if stageCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("stage %s: %w", next, domain.ErrStageTimeout)
		}

		job.RetryCount++
		if job.RetryCount >= job.MaxRetries {
			err = fmt.Errorf("%w: %w", domain.ErrRetriesExceeded, err)
			q.failLocked(job, fmt.Sprintf("stage %s failed after %d retries: %v", next, job.RetryCount, err), err)
			snapshot = *job
			q.mu.Unlock()
			q.persist(snapshot)
			return
		}

		// Retryable: back off, then re-run the same stage.
		attempt := job.RetryCount
		prev := prevStage(next)
		job.Stage = prev
		snapshot = *job
		q.mu.Unlock()

		q.persist(snapshot)
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.backoff(attempt)):
		}
	}
}

// runStage invokes the runner, converting panics into errors so a
// misbehaving stage cannot take the worker down.
func (q *Queue) runStage(ctx context.Context, job domain.Job, stage domain.Stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage, r)
		}
	}()
	if q.runner == nil {
		return nil
	}
	return q.runner(ctx, job, stage)
}

// failLocked transitions a job to failed and records the fallback
// envelope for any caller awaiting the result. Must hold q.mu.
func (q *Queue) failLocked(job *domain.Job, msg string, cause error) {
	failedIn := job.Stage
	job.Status = domain.JobFailed
	job.Stage = domain.StageFailed
	job.Error = msg
	job.CompletedAt = q.now()

	reason := "stage_failure"
	fbType := fallback.GenericError
	switch {
	case errors.Is(cause, domain.ErrProvidersExhausted):
		fbType = fallback.AIOverloaded
		reason = "providers_exhausted"
	case errors.Is(cause, domain.ErrJobTimeout), errors.Is(cause, domain.ErrStageTimeout):
		reason = "timeout"
	}
	if q.fb != nil {
		q.results[job.ID] = q.fb.Response(fbType, &fallback.Options{
			OriginalErr: cause,
			Meta:        map[string]string{"job_id": job.ID},
		})
	}

	metrics.JobsFailed.WithLabelValues(job.Category, reason).Inc()
	log.Printf("jobs: job=%s failed stage=%s retries=%d err=%q", job.ID, failedIn, job.RetryCount, msg)
}

// backoff computes the exponential retry delay: base * 2^(attempt-1),
// capped at RetryMaxDelay.
func (q *Queue) backoff(attempt int) time.Duration {
	delay := q.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= q.cfg.RetryMaxDelay {
			return q.cfg.RetryMaxDelay
		}
	}
	return delay
}

func prevStage(s domain.Stage) domain.Stage {
	for i, st := range domain.Pipeline {
		if st == s && i > 0 {
			return domain.Pipeline[i-1]
		}
	}
	return domain.StagePending
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) persist(job domain.Job) {
	if q.store == nil {
		return
	}
	if err := q.store.UpsertJob(job); err != nil {
		log.Printf("jobs: persist job=%s: %v", job.ID, err)
	}
}
