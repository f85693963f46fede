// Package batch runs one spreadsheet through the row pipeline: read the input,
// fan rows out to a bounded set of lookups, and store the enriched workbook.
package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/company-scraper/internal/progress"
	"github.com/JakeFAU/company-scraper/internal/scraper"
	"github.com/JakeFAU/company-scraper/internal/spreadsheet"
)

// DefaultConcurrency is the number of rows looked up at once.
const DefaultConcurrency = 5

// RowFetcher looks up a single company.
type RowFetcher interface {
	FetchRow(ctx context.Context, jobID, name, cin string) scraper.CompanyRecord
}

// Config controls the Coordinator.
type Config struct {
	Concurrency int
}

// Result summarizes a finished batch.
type Result struct {
	JobID    string
	Rows     []scraper.OutputRow
	Outcomes map[scraper.Outcome]int
	Artifact scraper.Artifact
	Duration time.Duration
}

// Coordinator owns the lifecycle of a job from StartJob to CompleteJob or
// FailJob.
type Coordinator struct {
	cfg       Config
	rows      RowFetcher
	jobs      scraper.JobStore
	artifacts scraper.ArtifactStore
	hasher    scraper.Hasher
	clock     scraper.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
}

// New constructs a Coordinator. emitter may be nil.
func New(
	cfg Config,
	rows RowFetcher,
	jobs scraper.JobStore,
	artifacts scraper.ArtifactStore,
	hasher scraper.Hasher,
	clock scraper.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Coordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		rows:      rows,
		jobs:      jobs,
		artifacts: artifacts,
		hasher:    hasher,
		clock:     clock,
		emitter:   emitter,
		logger:    logger,
	}
}

// OutputName returns the default artifact key for a batch finishing at t.
func OutputName(t time.Time) string {
	return fmt.Sprintf("output_%d.xlsx", t.Unix())
}

// Run processes the workbook at inputPath for an existing job. Row failures
// never fail the batch. Any returned error has already been recorded on the
// job as failed or canceled.
func (c *Coordinator) Run(ctx context.Context, jobID, inputPath, outputName string) (Result, error) {
	start := c.clock.Now()
	logger := c.logger.With(zap.String("job_id", jobID))

	inputs, err := spreadsheet.ReadFile(inputPath)
	if err != nil {
		return Result{}, c.fail(ctx, jobID, start, fmt.Errorf("read input: %w", err))
	}
	if err := c.jobs.StartJob(ctx, jobID, len(inputs)); err != nil {
		return Result{}, c.fail(ctx, jobID, start, fmt.Errorf("start job: %w", err))
	}
	c.emit(progress.Event{JobID: jobID, Stage: progress.StageJobStart, Total: len(inputs)})
	logger.Info("batch started", zap.Int("rows", len(inputs)), zap.Int("concurrency", c.cfg.Concurrency))

	slots, outcomes := c.fanOut(ctx, jobID, inputs)
	if err := ctx.Err(); err != nil {
		return Result{}, c.fail(ctx, jobID, start, fmt.Errorf("batch interrupted: %w", err))
	}

	if outputName == "" {
		outputName = OutputName(c.clock.Now())
	}
	artifact, err := c.store(ctx, outputName, slots)
	if err != nil {
		return Result{}, c.fail(ctx, jobID, start, err)
	}
	if err := c.jobs.CompleteJob(ctx, jobID, artifact); err != nil {
		return Result{}, c.fail(ctx, jobID, start, fmt.Errorf("complete job: %w", err))
	}

	result := Result{
		JobID:    jobID,
		Rows:     slots,
		Outcomes: tally(outcomes),
		Artifact: artifact,
		Duration: c.clock.Now().Sub(start),
	}
	c.emit(progress.Event{JobID: jobID, Stage: progress.StageJobDone, Total: len(inputs), Dur: result.Duration})
	logger.Info("batch complete",
		zap.Int("rows", len(slots)),
		zap.String("output", artifact.Location),
		zap.Any("outcomes", result.Outcomes),
	)
	return result, nil
}

// fanOut looks up every row with at most cfg.Concurrency in flight. Slot i
// always holds the result for input row i.
func (c *Coordinator) fanOut(
	ctx context.Context,
	jobID string,
	inputs []scraper.InputRow,
) ([]scraper.OutputRow, []scraper.Outcome) {
	slots := make([]scraper.OutputRow, len(inputs))
	outcomes := make([]scraper.Outcome, len(inputs))
	var completed atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, input := range inputs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			record := c.rows.FetchRow(ctx, jobID, input.Name, input.CIN)
			slots[i] = scraper.OutputRow{InputRow: input, URL: record.URL, Fields: record.Fields}
			outcomes[i] = record.Outcome

			if err := c.jobs.RecordRow(context.WithoutCancel(ctx), jobID, input.Name, record.Outcome); err != nil {
				c.logger.Warn("record row failed", zap.String("job_id", jobID), zap.Error(err))
			}
			c.emit(progress.Event{
				JobID:       jobID,
				Stage:       progress.StageRowDone,
				Row:         int(completed.Add(1)),
				Company:     input.Name,
				URL:         record.URL,
				Outcome:     record.Outcome,
				StatusClass: progress.ClassifyStatus(record.StatusCode),
				Headless:    record.UsedHeadless,
				Dur:         record.Duration,
			})
			return nil
		})
	}
	// Row goroutines never return errors.
	_ = g.Wait()
	return slots, outcomes
}

func (c *Coordinator) store(ctx context.Context, key string, rows []scraper.OutputRow) (scraper.Artifact, error) {
	data, err := spreadsheet.Encode(rows)
	if err != nil {
		return scraper.Artifact{}, fmt.Errorf("encode output: %w", err)
	}
	sum, err := c.hasher.Hash(data)
	if err != nil {
		return scraper.Artifact{}, fmt.Errorf("hash output: %w", err)
	}
	location, err := c.artifacts.PutObject(ctx, key, spreadsheet.ContentType, bytes.NewReader(data))
	if err != nil {
		return scraper.Artifact{}, fmt.Errorf("store output: %w", err)
	}
	return scraper.Artifact{
		Key:      key,
		Location: location,
		SHA256:   sum,
		Size:     int64(len(data)),
	}, nil
}

// fail records err on the job and returns it.
func (c *Coordinator) fail(ctx context.Context, jobID string, start time.Time, err error) error {
	status := scraper.JobStatusFailed
	stage := progress.StageJobError
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = scraper.JobStatusCanceled
		stage = progress.StageJobCanceled
	}
	if ferr := c.jobs.FailJob(context.WithoutCancel(ctx), jobID, status, err.Error()); ferr != nil {
		c.logger.Error("fail job update failed", zap.String("job_id", jobID), zap.Error(ferr))
	}
	c.emit(progress.Event{JobID: jobID, Stage: stage, Dur: c.clock.Now().Sub(start), Note: err.Error()})
	c.logger.Error("batch failed", zap.String("job_id", jobID), zap.String("status", string(status)), zap.Error(err))
	return err
}

func (c *Coordinator) emit(evt progress.Event) {
	if c.emitter == nil {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = c.clock.Now()
	}
	c.emitter.Emit(evt)
}

func tally(outcomes []scraper.Outcome) map[scraper.Outcome]int {
	counts := make(map[scraper.Outcome]int)
	for _, o := range outcomes {
		counts[o]++
	}
	return counts
}
