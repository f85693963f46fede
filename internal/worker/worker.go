// Package worker executes queued enrichment jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/scraper"
)

// Runner executes one batch. batch.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, jobID, inputPath, outputName string) (batch.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a message for every finished job; empty disables publishing.
	Topic string
}

// Worker consumes queue items one at a time.
type Worker struct {
	queue     scraper.Queue
	jobStore  scraper.JobStore
	runner    Runner
	publisher scraper.Publisher
	clock     scraper.Clock
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs a Worker. publisher may be nil.
func New(
	queue scraper.Queue,
	jobStore scraper.JobStore,
	runner Runner,
	publisher scraper.Publisher,
	clock scraper.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		runner:    runner,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		running:   make(map[string]context.CancelFunc),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, scraper.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

// Cancel stops the job if this worker is running it.
func (w *Worker) Cancel(jobID string) bool {
	w.mu.Lock()
	cancel, ok := w.running[jobID]
	w.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (w *Worker) processJob(ctx context.Context, item scraper.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID))

	job, err := w.jobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return
	}
	if job.Status.Terminal() {
		logger.Info("skipping finished job", zap.String("status", string(job.Status)))
		return
	}
	if w.runner == nil {
		if err := w.jobStore.FailJob(ctx, item.JobID, scraper.JobStatusFailed, "no batch runner configured"); err != nil {
			logger.Error("fail job status update", zap.Error(err))
		}
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	w.track(item.JobID, cancel)
	defer func() {
		w.untrack(item.JobID)
		cancel()
	}()

	result, runErr := w.runner.Run(jobCtx, item.JobID, item.InputPath, item.OutputName)
	if runErr != nil {
		logger.Warn("job did not complete", zap.Error(runErr))
	}

	// Publish even when the service is shutting down.
	if err := w.publishResult(context.WithoutCancel(ctx), item.JobID, result); err != nil {
		logger.Error("publish job result failed", zap.Error(err))
	}
}

func (w *Worker) track(jobID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running[jobID] = cancel
}

func (w *Worker) untrack(jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.running, jobID)
}

func (w *Worker) publishResult(ctx context.Context, jobID string, result batch.Result) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	job, err := w.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	payload := map[string]any{
		"job_id":      jobID,
		"status":      job.Status,
		"rows":        job.Progress.Total,
		"processed":   job.Progress.Current,
		"output_file": job.Progress.OutputFile,
		"sha256":      job.ArtifactSHA256,
		"outcomes":    job.Outcomes,
		"error":       job.ErrorText,
		"duration_ms": result.Duration.Milliseconds(),
		"timestamp":   w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("job result published", zap.String("job_id", jobID), zap.String("status", string(job.Status)))
	return nil
}
