package server

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/batch"
	"github.com/JakeFAU/company-scraper/internal/config"
	"github.com/JakeFAU/company-scraper/internal/id/uuid"
	"github.com/JakeFAU/company-scraper/internal/logging"
	"github.com/JakeFAU/company-scraper/internal/progress"
	progresssinks "github.com/JakeFAU/company-scraper/internal/progress/sinks"
	"github.com/JakeFAU/company-scraper/internal/scraper"
	localstorage "github.com/JakeFAU/company-scraper/internal/storage/local"
	memoryStorage "github.com/JakeFAU/company-scraper/internal/storage/memory"
)

// Enrich runs one workbook through the lookup pipeline in the foreground and
// writes the enriched workbook to outputPath. Per-row progress goes to the log.
func Enrich(ctx context.Context, cfg *config.Config, inputPath, outputPath string, opts ...Option) (batch.Result, error) {
	if inputPath == "" || outputPath == "" {
		return batch.Result{}, errors.New("input and output paths are required")
	}
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
		if err != nil {
			return batch.Result{}, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
	}

	artifacts, err := localstorage.New(localstorage.Config{BaseDir: filepath.Dir(outputPath)})
	if err != nil {
		return batch.Result{}, fmt.Errorf("output dir: %w", err)
	}
	jobs := memoryStorage.NewJobStore()
	jobID, err := uuid.New().NewID()
	if err != nil {
		return batch.Result{}, fmt.Errorf("generate job id: %w", err)
	}
	if err := jobs.CreateJob(ctx, scraper.Job{
		ID:         jobID,
		InputName:  filepath.Base(inputPath),
		InputPath:  inputPath,
		OutputName: filepath.Base(outputPath),
	}); err != nil {
		return batch.Result{}, fmt.Errorf("create job: %w", err)
	}

	var emitter progress.Emitter
	if cfg.Progress.LogEnabled {
		hub := progress.NewHub(progress.Config{
			MaxBatchWait: 100 * time.Millisecond,
			Logger:       app.logger.Named("progress_hub"),
		}, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		defer func() {
			if cerr := hub.Close(context.WithoutCancel(ctx)); cerr != nil {
				app.logger.Warn("progress hub close failed", zap.Error(cerr))
			}
		}()
		emitter = hub
	}

	coordinator := newCoordinator(app, jobs, artifacts, emitter)
	defer func() {
		if app.headless != nil {
			app.headless.Close()
		}
	}()

	app.logger.Info("enrich started", zap.String("job_id", jobID), zap.String("input", inputPath))
	result, err := coordinator.Run(ctx, jobID, inputPath, filepath.Base(outputPath))
	if err != nil {
		return result, fmt.Errorf("enrich %s: %w", inputPath, err)
	}
	app.logger.Info("enrich finished",
		zap.String("job_id", jobID),
		zap.Int("rows", len(result.Rows)),
		zap.String("output", result.Artifact.Location),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
