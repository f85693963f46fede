package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/scraper"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// listJobs handles GET /jobs?status=&limit=&offset=. It returns
// {"jobs": [...]} newest first, or 400 for invalid filters.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *scraper.JobStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		parsed, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &parsed
	}
	jobs, err := s.jobStore.ListJobs(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// getJob handles GET /jobs/{job_id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// downloadJob handles GET /jobs/{job_id}/download.
func (s *Server) downloadJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if !s.serveArtifact(w, r, job) {
		writeError(w, http.StatusNotFound, "artifact not available")
	}
}

// cancelJob handles POST /jobs/{job_id}/cancel. A running job has its context
// canceled and settles asynchronously (202); a queued job is marked canceled
// immediately (200) and skipped when dequeued. Finished jobs yield 409.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, "job already "+string(job.Status))
		return
	}
	if s.dispatcher.Cancel(job.ID) {
		s.logger.Info("cancel requested", zap.String("job_id", job.ID))
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": "canceling"})
		return
	}
	if err := s.jobStore.FailJob(r.Context(), job.ID, scraper.JobStatusCanceled, "canceled via API"); err != nil {
		// The job finished or was picked up between the load and the update.
		s.logger.Info("cancel raced job transition", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusConflict, "job is no longer cancelable")
		return
	}
	s.logger.Info("queued job canceled", zap.String("job_id", job.ID))
	writeJSON(w, http.StatusOK, map[string]string{"job_id": job.ID, "status": string(scraper.JobStatusCanceled)})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (scraper.Job, bool) {
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return scraper.Job{}, false
	}
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, scraper.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return scraper.Job{}, false
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return scraper.Job{}, false
	}
	return job, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (scraper.JobStatus, error) {
	switch strings.ToLower(input) {
	case "queued":
		return scraper.JobStatusQueued, nil
	case "running":
		return scraper.JobStatusRunning, nil
	case "succeeded", "success":
		return scraper.JobStatusSucceeded, nil
	case "failed", "error", "failure":
		return scraper.JobStatusFailed, nil
	case "canceled", "cancelled":
		return scraper.JobStatusCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}
