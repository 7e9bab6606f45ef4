package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/capital-forecast-crawler/internal/progress"
)

// LogSink turns progress events into log lines. Lifecycle events log at Info
// and failures at Warn; per-fetch and per-item events stay at Debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

var logMessages = map[progress.Kind]string{
	progress.KindWorkerStart:   "worker started",
	progress.KindWorkerPaused:  "worker paused",
	progress.KindWorkerResumed: "worker resumed",
	progress.KindWorkerDone:    "worker finished",
	progress.KindWorkerError:   "worker stopped with error",
	progress.KindFetchDone:     "page fetched",
	progress.KindItemDone:      "item processed",
}

func logLevel(evt progress.Event) zapcore.Level {
	switch evt.Kind {
	case progress.KindWorkerError:
		return zapcore.WarnLevel
	case progress.KindFetchDone, progress.KindItemDone:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// Consume logs each event, attaching only the fields its kind carries.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		ce := s.logger.Check(logLevel(evt), logMessages[evt.Kind])
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("worker", evt.Worker),
			zap.Stringer("run_id", evt.RunID),
		}
		switch evt.Kind {
		case progress.KindFetchDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("status", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur))
		case progress.KindItemDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.Bool("ok", evt.OK),
				zap.Int64("items", evt.Items),
				zap.Float64("fraction", evt.Fraction))
		case progress.KindWorkerDone, progress.KindWorkerError:
			fields = append(fields, zap.Duration("elapsed", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close is a no-op.
func (*LogSink) Close(context.Context) error { return nil }
