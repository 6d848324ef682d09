package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/page-downloader/internal/logging"
	"github.com/JakeFAU/page-downloader/internal/progress"
)

// LogSink writes each event as a structured debug-level entry. Job errors are
// logged at warn so they surface without debug logging enabled.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
			)
		case progress.StageJobError:
			fields = append(fields, zap.String("note", evt.Note))
		}
		level := logging.DebugLevel
		if evt.Stage == progress.StageJobError {
			level = logging.WarnLevel
		}
		logging.Log(s.logger, level, "progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
