package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/progress"
)

// LogSink writes one structured log line per lifecycle event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("stage", string(evt.Stage)),
			zap.String("job_id", evt.JobID),
			zap.String("session_id", evt.SessionID),
			zap.String("address", evt.Address),
			zap.Time("ts", evt.TS),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage.Terminal() {
			fields = append(fields,
				zap.String("outcome", evt.Outcome),
				zap.Int("status_code", evt.StatusCode),
				zap.String("mime_type", evt.MimeType),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("job event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
