package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pressmesh/pressmesh/internal/domain"
	"github.com/pressmesh/pressmesh/internal/fallback"
)

// ─── System Endpoints ───────────────────────────────────────────────────────

// handleWorkers reports worker pool status for the ops dashboard.
func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	st := s.queue.Metrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy":        s.queue.Running(),
		"mode":           s.queue.Mode(),
		"processingJobs": st.ProcessingCount,
		"queueDepth":     st.QueueDepth,
		"isPaused":       s.queue.Paused(),
	})
}

// handleReadiness reports the live readiness verdict. When monitoring
// is disabled the endpoint still answers, with enabled:false and no
// state claim.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil || !s.monitor.GetMonitorStatus().Enabled {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
		})
		return
	}

	body := map[string]interface{}{
		"enabled": true,
		"state":   s.monitor.GetCurrentState(),
	}
	if snap, ok := s.monitor.GetLastSnapshot(); ok {
		body["score"] = snap.Score
		body["checkedAt"] = snap.Timestamp
		body["results"] = snap.Results
	}
	if active := s.monitor.GetActiveDegradations(); len(active) > 0 {
		body["degradations"] = active
	}
	writeJSON(w, http.StatusOK, body)
}

// ─── Job Endpoints ──────────────────────────────────────────────────────────

type enqueueRequest struct {
	Category   string          `json:"category"`
	Priority   *int            `json:"priority,omitempty"`
	MaxRetries *int            `json:"max_retries,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// handleEnqueueJob accepts a new pipeline task.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	task := domain.AITask{
		Category: req.Category,
		Priority: domain.PriorityNormal,
		Payload:  req.Payload,
	}
	if req.Priority != nil {
		if *req.Priority < domain.PriorityBreaking || *req.Priority > domain.PriorityBatch {
			writeError(w, http.StatusBadRequest, "priority out of range")
			return
		}
		task.Priority = *req.Priority
	}
	if req.MaxRetries != nil {
		task.MaxRetries = *req.MaxRetries
	}

	job := s.queue.Enqueue(task)
	writeJSON(w, http.StatusAccepted, job)
}

// handleGetJob returns one job by ID, including the fallback envelope
// for failed jobs.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.queue.Get(id)
	if !ok {
		s.writeFallback(w, fallback.ContentNotFound, &fallback.Options{
			OriginalErr: domain.ErrJobNotFound,
			Meta:        map[string]string{"job_id": id},
		})
		return
	}

	body := map[string]interface{}{"job": job}
	if resp, ok := s.queue.FailureResponse(id); ok {
		body["fallback"] = resp
	}
	writeJSON(w, http.StatusOK, body)
}

// handleRecentJobs lists recent jobs, newest first.
func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	recent := s.queue.Recent(limit)
	st := s.queue.Metrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"queueDepth":      st.QueueDepth,
		"failedLast24h":   st.FailedLast24h,
		"avgDurationMs":   st.AvgDurationMs,
		"pendingCount":    st.PendingCount,
		"processingCount": st.ProcessingCount,
		"completedCount":  st.CompletedCount,
		"jobs":            recent,
		"count":           len(recent),
	})
}

// handleCancelJob cancels a pending or in-flight job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.queue.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "cancelled",
			"job_id": id,
		})
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeFallback(w, fallback.ContentNotFound, &fallback.Options{
			OriginalErr: err,
			Meta:        map[string]string{"job_id": id},
		})
	case errors.Is(err, domain.ErrJobTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.writeFallback(w, fallback.GenericError, &fallback.Options{OriginalErr: err})
	}
}

// handlePause stops claiming new jobs; in-flight stages finish.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.queue.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.queue.Mode()})
}

// handleResume resumes claiming.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.queue.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"mode": s.queue.Mode()})
}

// ─── Provider Endpoints ─────────────────────────────────────────────────────

// handleProviders reports live status for every configured backend.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.pool.AllStatus(),
		"available": s.pool.AvailableCount(),
		"total":     s.pool.Size(),
	})
}

// ─── Readiness Detail Endpoints ─────────────────────────────────────────────

func (s *Server) handleReadinessHistory(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": s.monitor.GetSnapshotHistory(limit),
	})
}

func (s *Server) handleMTTR(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.GetMTTRStats())
}

func (s *Server) handleDegradations(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": s.monitor.GetActiveDegradations(),
		"closed": s.monitor.GetDegradationHistory(50),
	})
}
