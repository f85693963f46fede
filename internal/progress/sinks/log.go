package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-scraper/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Row events are logged at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageRowDone:
			fields = append(fields,
				zap.Int("row", evt.Row),
				zap.String("company", evt.Company),
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Bool("headless", evt.Headless),
			)
			s.logger.Debug("progress event", fields...)
			continue
		case progress.StageJobError, progress.StageJobCanceled:
			fields = append(fields, zap.String("note", evt.Note))
		}
		fields = append(fields, zap.Int("total", evt.Total))
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
