package audit

import (
	"context"

	"go.uber.org/zap"
)

// ZapSink logs each record as a structured log line. Useful when the deploy
// ships attempts to the same pipeline as application logs.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, record Record) {
	fields := []zap.Field{
		zap.Time("timestamp", record.Timestamp),
		zap.Bool("success", record.Success),
		zap.String("identifier", record.Identifier),
		zap.String("owner_id", record.OwnerID),
		zap.String("ip", record.IP),
		zap.String("user_agent", record.UserAgent),
	}
	if record.Reason != "" {
		fields = append(fields, zap.String("reason", record.Reason))
	}

	if record.Success {
		s.logger.Info("login attempt", fields...)
		return
	}
	s.logger.Warn("login attempt", fields...)
}
