package jobs

import (
	"time"

	"github.com/pressmesh/pressmesh/internal/domain"
)

// DefaultStageTimeouts returns the per-stage time budgets. Exceeding a
// budget is a timeout, not a crash: the stage fails and the normal
// retry policy applies.
func DefaultStageTimeouts() map[domain.Stage]time.Duration {
	return map[domain.Stage]time.Duration{
		domain.StageParsing:         60 * time.Second,
		domain.StageExtracting:      120 * time.Second,
		domain.StageEnriching:       180 * time.Second,
		domain.StageGenerating:      300 * time.Second,
		domain.StageQualityCheck:    60 * time.Second,
		domain.StageFactCheck:       120 * time.Second,
		domain.StageEntityUpsert:    60 * time.Second,
		domain.StageGraphResolution: 60 * time.Second,
		domain.StagePublishQueue:    30 * time.Second,
	}
}

// aiStages are the stages that acquire a provider from the pool.
var aiStages = map[domain.Stage]bool{
	domain.StageEnriching:  true,
	domain.StageGenerating: true,
	domain.StageFactCheck:  true,
}

// StageUsesAI reports whether a stage needs an AI backend.
func StageUsesAI(s domain.Stage) bool {
	return aiStages[s]
}
