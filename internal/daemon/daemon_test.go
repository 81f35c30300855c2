package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/fallback"
	"github.com/pressmesh/pressmesh/internal/jobs"
)

// aiOutageExecutor fails every AI-dependent stage, simulating a
// backend that accepts connections but cannot serve.
type aiOutageExecutor struct{}

func (aiOutageExecutor) Execute(ctx context.Context, job domain.Job, stage domain.Stage) error {
	if jobs.StageUsesAI(stage) {
		return errors.New("backend unreachable")
	}
	return nil
}

func outageConfig() Config {
	cfg := DefaultConfig()
	cfg.Jobs.Workers = 1
	cfg.Jobs.RetryBaseDelay = "1ms"
	cfg.Jobs.RetryMaxDelay = "5ms"
	cfg.Readiness.Enabled = false
	cfg.Providers.Backends = []BackendConfig{
		{ID: "solo", DailyCredits: 100, RateLimit: 100},
	}
	return cfg
}

func waitForFailed(t *testing.T, q *jobs.Queue, id string) domain.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := q.Get(id); ok && job.Status == domain.JobFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := q.Get(id)
	t.Fatalf("job %s never failed (stuck at %s/%s)", id, job.Status, job.Stage)
	return domain.Job{}
}

func TestTotalProviderOutageServesAIOverloaded(t *testing.T) {
	t.Setenv("PRESSMESH_HOME", t.TempDir())

	d, err := NewWithConfig(outageConfig(), aiOutageExecutor{})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	d.Queue.Start()
	job := d.Queue.Enqueue(domain.AITask{Category: "news"})
	waitForFailed(t, d.Queue, job.ID)

	if got := d.Pool.AvailableCount(); got != 0 {
		t.Fatalf("available providers = %d, want 0 after repeated failures", got)
	}
	resp, ok := d.Queue.FailureResponse(job.ID)
	if !ok {
		t.Fatal("failed job should carry a fallback envelope")
	}
	if resp.Type != fallback.AIOverloaded {
		t.Fatalf("fallback type = %s, want %s when the only provider is exhausted", resp.Type, fallback.AIOverloaded)
	}
}

func TestPartialProviderFailureStaysGeneric(t *testing.T) {
	t.Setenv("PRESSMESH_HOME", t.TempDir())

	cfg := outageConfig()
	cfg.Providers.Backends = []BackendConfig{
		{ID: "flaky", DailyCredits: 100, RateLimit: 100},
		{ID: "healthy", DailyCredits: 100, RateLimit: 100},
	}
	d, err := NewWithConfig(cfg, aiOutageExecutor{})
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer d.Close()

	d.Queue.Start()
	// A single attempt demotes at most one backend, so the pool
	// still has capacity when the job lands in failed.
	job := d.Queue.Enqueue(domain.AITask{Category: "news", MaxRetries: 1})
	waitForFailed(t, d.Queue, job.ID)

	if got := d.Pool.AvailableCount(); got != 1 {
		t.Fatalf("available providers = %d, want 1 after a single failure", got)
	}
	resp, ok := d.Queue.FailureResponse(job.ID)
	if !ok {
		t.Fatal("failed job should carry a fallback envelope")
	}
	if resp.Type != fallback.GenericError {
		t.Fatalf("fallback type = %s, want %s with a backend remaining", resp.Type, fallback.GenericError)
	}
}
