package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitemirror/internal/progress"
)

// LogSink emits one structured log line per event.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			s.logger.Info("mirror started", append(fields, zap.String("output", evt.Note))...)
		case progress.StagePageWritten:
			s.logger.Info("page written", append(fields,
				zap.String("path", evt.Path),
				zap.Int("status", evt.StatusCode),
				zap.Int64("bytes", evt.Bytes),
				zap.Int("assets_downloaded", evt.Assets.Downloaded),
				zap.Int("assets_failed", evt.Assets.Failed),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StagePageSkipped:
			s.logger.Debug("url skipped", fields...)
		case progress.StagePageFailed:
			s.logger.Warn("page failed", append(fields, zap.String("error", evt.Note))...)
		case progress.StageRunDone:
			s.logger.Info("mirror finished", append(fields, zap.Duration("dur", evt.Dur))...)
		case progress.StageRunError:
			s.logger.Error("mirror aborted", append(fields, zap.String("error", evt.Note), zap.Duration("dur", evt.Dur))...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
