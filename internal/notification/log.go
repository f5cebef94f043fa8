package notification

import (
	"context"
	"log/slog"
)

// Log writes events to the application log. It is the fallback channel when
// no external notifier is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(ctx context.Context, eventName string, payload any) error {
	l.logger.InfoContext(ctx, "notification",
		"event", eventName,
		"payload", payload,
	)
	return nil
}
