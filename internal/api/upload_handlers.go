package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/metrics"
	"github.com/JakeFAU/company-scraper/internal/scraper"
	"github.com/JakeFAU/company-scraper/internal/spreadsheet"
)

const (
	uploadField      = "file"
	allowedUploadExt = ".xlsx"
	badUploadMessage = "Only .xlsx allowed"
)

// upload handles POST /upload. The multipart field "file" must name an .xlsx
// workbook; anything else is rejected before any job state changes.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		metrics.ObserveUpload(metrics.UploadRejected, 0)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, badUploadMessage)
		return
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			s.logger.Debug("close upload failed", zap.Error(cerr))
		}
	}()

	name, ok := uploadName(header.Filename)
	if !ok {
		metrics.ObserveUpload(metrics.UploadRejected, 0)
		writeError(w, http.StatusBadRequest, badUploadMessage)
		return
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		metrics.ObserveUpload(metrics.UploadFailed, 0)
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}
	inputPath, size, err := s.saveUpload(jobID, name, file)
	if err != nil {
		metrics.ObserveUpload(metrics.UploadFailed, 0)
		s.logger.Error("save upload failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	if err := s.submit(r.Context(), jobID, name, inputPath); err != nil {
		metrics.ObserveUpload(metrics.UploadFailed, 0)
		s.logger.Error("submit job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}
	metrics.ObserveUpload(metrics.UploadAccepted, size)
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("input", name),
		zap.Int64("bytes", size),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "job_id": jobID})
}

// uploadName validates the client file name and reduces it to its base name.
func uploadName(filename string) (string, bool) {
	// Browsers on Windows may send a full path.
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || !strings.EqualFold(filepath.Ext(name), allowedUploadExt) {
		return "", false
	}
	return name, true
}

func (s *Server) saveUpload(jobID, name string, src io.Reader) (string, int64, error) {
	dir := filepath.Join(s.opts.UploadDir, jobID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}
	dst := filepath.Join(dir, name)
	f, err := os.Create(dst) //nolint:gosec // name is reduced to a base name
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()
	if copyErr != nil {
		return "", 0, fmt.Errorf("write upload file: %w", copyErr)
	}
	if closeErr != nil {
		return "", 0, fmt.Errorf("close upload file: %w", closeErr)
	}
	return dst, n, nil
}

// submit creates the job, making it current, and enqueues it. A job that
// cannot be enqueued is marked failed.
func (s *Server) submit(ctx context.Context, jobID, inputName, inputPath string) error {
	now := s.clock.Now()
	job := scraper.Job{
		ID:         jobID,
		Status:     scraper.JobStatusQueued,
		InputName:  inputName,
		InputPath:  inputPath,
		OutputName: batch.OutputName(now),
		Submitted:  now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, s.opts.EnqueueTimeout)
	defer cancel()
	item := scraper.QueueItem{
		JobID:      jobID,
		InputPath:  inputPath,
		OutputName: job.OutputName,
		Submitted:  now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if ferr := s.jobStore.FailJob(context.WithoutCancel(ctx), jobID, scraper.JobStatusFailed, err.Error()); ferr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// progress handles GET /progress: the current job's counters, or a zero
// record before the first upload. A succeeded job reports "done" as its
// current name.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.CurrentJob(r.Context())
	if err != nil {
		if !errors.Is(err, scraper.ErrNotFound) {
			s.logger.Error("load current job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load progress")
			return
		}
		writeJSON(w, http.StatusOK, scraper.Progress{})
		return
	}
	writeJSON(w, http.StatusOK, progressView(job))
}

func progressView(job scraper.Job) scraper.Progress {
	p := job.Progress
	if job.Status == scraper.JobStatusSucceeded {
		p.CurrentName = scraper.DoneMarker
	}
	return p
}

// download handles GET /download for the current job. Anything short of a
// stored artifact is an empty 404.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.CurrentJob(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !s.serveArtifact(w, r, job) {
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveArtifact streams the job's workbook. It reports false, having written
// nothing, when no artifact is available.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, job scraper.Job) bool {
	if job.Status != scraper.JobStatusSucceeded || job.ArtifactKey == "" || s.artifacts == nil {
		return false
	}
	rc, err := s.artifacts.OpenObject(r.Context(), job.ArtifactKey)
	if err != nil {
		if !errors.Is(err, scraper.ErrNotFound) {
			s.logger.Error("open artifact failed", zap.String("job_id", job.ID), zap.Error(err))
		}
		return false
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			s.logger.Debug("close artifact failed", zap.Error(cerr))
		}
	}()

	w.Header().Set("Content-Type", spreadsheet.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.ArtifactKey)))
	if job.ArtifactSHA256 != "" {
		w.Header().Set("X-Content-SHA256", job.ArtifactSHA256)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("stream artifact failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	return true
}
