// Package domain holds the shared types for the editorial resilience core.
// A Job is a unit of editorial work that flows through a fixed pipeline:
// enqueue → parse → extract → enrich → generate → verify → publish.
package domain

import (
	"encoding/json"
	"time"
)

// JobStatus tracks job lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Stage is one step in the fixed job processing pipeline.
type Stage string

const (
	StagePending         Stage = "pending"
	StageParsing         Stage = "parsing"
	StageExtracting      Stage = "extracting"
	StageEnriching       Stage = "enriching"
	StageGenerating      Stage = "generating"
	StageQualityCheck    Stage = "quality_check"
	StageFactCheck       Stage = "fact_check"
	StageEntityUpsert    Stage = "entity_upsert"
	StageGraphResolution Stage = "graph_resolution"
	StagePublishQueue    Stage = "publish_queue"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Pipeline is the fixed stage order every job advances through.
// StageFailed is reachable from any non-terminal stage and is not listed.
var Pipeline = []Stage{
	StagePending,
	StageParsing,
	StageExtracting,
	StageEnriching,
	StageGenerating,
	StageQualityCheck,
	StageFactCheck,
	StageEntityUpsert,
	StageGraphResolution,
	StagePublishQueue,
	StageCompleted,
}

// NextStage returns the stage that follows s in the pipeline.
// Returns StageCompleted, false when s is terminal or unknown.
func NextStage(s Stage) (Stage, bool) {
	for i, st := range Pipeline {
		if st == s && i+1 < len(Pipeline) {
			return Pipeline[i+1], true
		}
	}
	return StageCompleted, false
}

// Priority classes for editorial work. Lower value schedules first.
const (
	PriorityBreaking = 0 // breaking news — jumps every queue
	PriorityHigh     = 1 // front-page refreshes
	PriorityNormal   = 2 // regular editorial tasks
	PriorityLow      = 3 // evergreen rewrites
	PriorityBatch    = 4 // bulk backfills, best effort
)

// PriorityLabel returns a human-readable label for a priority class.
func PriorityLabel(p int) string {
	switch p {
	case PriorityBreaking:
		return "BREAKING"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// AITask is a unit of work requiring an AI backend. Immutable once
// enqueued except for RetryCount, which the job queue owns.
type AITask struct {
	ID         string          `json:"id"`
	Category   string          `json:"category"` // e.g. "news", "evergreen"
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload,omitempty"` // opaque to this core
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

// Job is a work item advancing through the pipeline. Owned by the job
// queue; created on enqueue, mutated on every stage transition, never
// deleted — failed and completed jobs remain queryable for audit.
type Job struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	Category       string    `json:"category"`
	Stage          Stage     `json:"stage"`
	Status         JobStatus `json:"status"`
	Priority       int       `json:"priority"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	StageStartedAt time.Time `json:"stage_started_at,omitempty"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the job has reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed || j.Status == JobCancelled
}

// Duration returns how long the job took (0 if not started/completed).
func (j *Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}
