package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pressmesh/pressmesh/internal/api"
	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/fallback"
	"github.com/pressmesh/pressmesh/internal/infra/sqlite"
	"github.com/pressmesh/pressmesh/internal/jobs"
	"github.com/pressmesh/pressmesh/internal/provider"
	"github.com/pressmesh/pressmesh/internal/readiness"
)

// StageExecutor performs the actual work of one pipeline stage. The
// embedding application registers its own; the default executor
// completes stages without side effects so the orchestration core can
// run standalone.
type StageExecutor interface {
	Execute(ctx context.Context, job domain.Job, stage domain.Stage) error
}

// noopExecutor honors cancellation but does no content work.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, job domain.Job, stage domain.Stage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Daemon is the core PressMesh runtime. It wires together all
// services.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Pool     *provider.Pool
	Fallback *fallback.Handler
	Queue    *jobs.Queue
	Monitor  *readiness.Monitor
	Server   *api.Server
	cron     *cron.Cron
	cancel   context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, nil)
}

// NewWithConfig creates a Daemon with the given configuration. exec
// may be nil, in which case stages complete without content work.
func NewWithConfig(cfg Config, exec StageExecutor) (*Daemon, error) {
	if exec == nil {
		exec = noopExecutor{}
	}

	db, err := sqlite.Open(pressmeshHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool := provider.NewPool(cfg.Providers.PoolConfig())
	fb := fallback.NewHandler()

	queueCfg := jobs.DefaultConfig()
	if cfg.Jobs.Workers > 0 {
		queueCfg.Workers = cfg.Jobs.Workers
	}
	if cfg.Jobs.MaxRetries > 0 {
		queueCfg.MaxRetries = cfg.Jobs.MaxRetries
	}
	queueCfg.JobTimeout = parseDuration(cfg.Jobs.JobTimeout, queueCfg.JobTimeout)
	queueCfg.WatchdogInterval = parseDuration(cfg.Jobs.WatchdogInterval, queueCfg.WatchdogInterval)
	queueCfg.RetryBaseDelay = parseDuration(cfg.Jobs.RetryBaseDelay, queueCfg.RetryBaseDelay)
	queueCfg.RetryMaxDelay = parseDuration(cfg.Jobs.RetryMaxDelay, queueCfg.RetryMaxDelay)

	queue := jobs.NewQueue(queueCfg, newStageRunner(pool, exec), fb, db)

	// Readiness thresholds are validated here: an inverted pair is a
	// configuration error the operator must fix, so it fails startup.
	monitorCfg := readiness.DefaultConfig()
	monitorCfg.Enabled = cfg.Readiness.Enabled
	monitorCfg.Interval = parseDuration(cfg.Readiness.Interval, monitorCfg.Interval)
	if cfg.Readiness.DegradationThreshold > 0 {
		monitorCfg.DegradationThreshold = cfg.Readiness.DegradationThreshold
	}
	if cfg.Readiness.RecoveryThreshold > 0 {
		monitorCfg.RecoveryThreshold = cfg.Readiness.RecoveryThreshold
	}
	if cfg.Readiness.NotReadyThreshold > 0 {
		monitorCfg.NotReadyThreshold = cfg.Readiness.NotReadyThreshold
	}
	if cfg.Readiness.ConfirmWindow > 0 {
		monitorCfg.ConfirmWindow = cfg.Readiness.ConfirmWindow
	}
	monitor, err := readiness.NewMonitor(monitorCfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("readiness config: %w", err)
	}

	d := &Daemon{
		Config:   cfg,
		DB:       db,
		Pool:     pool,
		Fallback: fb,
		Queue:    queue,
		Monitor:  monitor,
	}
	d.registerChecks()
	monitor.SetPersist(d.persistSnapshot)

	srv := api.NewServer(queue, pool, fb)
	srv.SetMonitor(monitor)
	srv.SetAuthToken(cfg.API.AuthToken)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	// Provider credits replenish at midnight UTC.
	d.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := d.cron.AddFunc("0 0 * * *", func() {
		pool.ResetDailyLimits()
		log.Printf("[daemon] daily provider limits reset")
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schedule credit reset: %w", err)
	}

	return d, nil
}

// newStageRunner routes AI-dependent stages through the provider pool
// and reports every outcome back so availability tracking stays live.
func newStageRunner(pool *provider.Pool, exec StageExecutor) jobs.StageRunner {
	return func(ctx context.Context, job domain.Job, stage domain.Stage) error {
		if !jobs.StageUsesAI(stage) {
			return exec.Execute(ctx, job, stage)
		}

		decision, err := pool.SelectProvider(domain.AITask{
			ID:       job.TaskID,
			Category: job.Category,
			Priority: job.Priority,
		})
		if err != nil {
			return err
		}

		start := time.Now()
		err = exec.Execute(ctx, job, stage)
		latency := int(time.Since(start).Milliseconds())
		if uerr := pool.UpdateStatus(decision.Provider, err == nil, 1, latency); uerr != nil {
			log.Printf("[daemon] provider status update failed: %v", uerr)
		}
		// A failure with no provider left available is a total outage:
		// surface it as exhaustion so the terminal fallback reports
		// AI_OVERLOADED instead of a generic error.
		if err != nil && pool.AvailableCount() == 0 {
			return fmt.Errorf("%w: %w", domain.ErrProvidersExhausted, err)
		}
		return err
	}
}

// registerChecks wires the built-in readiness probes.
func (d *Daemon) registerChecks() {
	checks := []readiness.Check{
		{
			Name: "providers",
			Run: func(ctx context.Context) (float64, string, error) {
				total := d.Pool.Size()
				if total == 0 {
					return 0, "no providers configured", nil
				}
				avail := d.Pool.AvailableCount()
				score := float64(avail) / float64(total) * 100
				return score, fmt.Sprintf("%d/%d providers available", avail, total), nil
			},
		},
		{
			Name: "queue_depth",
			Run: func(ctx context.Context) (float64, string, error) {
				depth := d.Queue.Metrics().QueueDepth
				score := 100 - float64(depth)*2
				if score < 0 {
					score = 0
				}
				return score, fmt.Sprintf("%d jobs pending", depth), nil
			},
		},
		{
			Name: "failure_rate",
			Run: func(ctx context.Context) (float64, string, error) {
				failed := d.Queue.Metrics().FailedLast24h
				score := 100 - float64(failed)*5
				if score < 0 {
					score = 0
				}
				return score, fmt.Sprintf("%d failures in 24h", failed), nil
			},
		},
		{
			Name: "storage",
			Run: func(ctx context.Context) (float64, string, error) {
				if err := d.DB.Ping(); err != nil {
					return 0, "", err
				}
				return 100, "sqlite reachable", nil
			},
		},
	}
	for _, c := range checks {
		if err := d.Monitor.Register(c); err != nil {
			log.Printf("[daemon] register check %s: %v", c.Name, err)
		}
	}
}

// persistSnapshot writes one readiness sample to the history table.
func (d *Daemon) persistSnapshot(snap readiness.Snapshot) {
	failed := make([]string, 0)
	for _, r := range snap.Results {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	rec := sqlite.SnapshotRecord{
		ID:      snap.ID,
		TakenAt: snap.Timestamp,
		State:   string(snap.State),
		Score:   snap.Score,
		Checks:  strings.Join(failed, ","),
	}
	if err := d.DB.InsertSnapshot(rec); err != nil {
		log.Printf("[daemon] persist snapshot: %v", err)
	}
}

// NodeID returns the configured node identity, generating one when
// unset.
func (d *Daemon) NodeID() string {
	if d.Config.Node.ID != "" {
		return d.Config.Node.ID
	}
	return "node-" + uuid.NewString()[:8]
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.Queue.Start()
	d.Monitor.StartMonitor()
	d.cron.Start()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		d.cron.Stop()
		d.Monitor.StopMonitor()
		d.Queue.Stop()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("PressMesh %s serving on http://%s\n", d.NodeID(), addr)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.cron != nil {
		d.cron.Stop()
	}
	if d.Monitor != nil {
		d.Monitor.StopMonitor()
	}
	if d.Queue != nil {
		d.Queue.Stop()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
