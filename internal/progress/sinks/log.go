package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/workbench-tasks/internal/progress"
)

// LogSink writes run events as structured logs. Progress steps are logged at
// debug level so a busy task does not flood production logs.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageRunProgress:
			level = zapcore.DebugLevel
		case progress.StageRunError:
			level = zapcore.WarnLevel
		}
		if ce := s.logger.Check(level, "run event"); ce != nil {
			ce.Write(
				zap.Stringer("run_id", evt.RunUUID()),
				zap.String("name", evt.Name),
				zap.String("stage", string(evt.Stage)),
				zap.Int("percent", evt.Percent),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
