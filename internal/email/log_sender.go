package email

import (
	"context"
	"log/slog"
)

// LogSender writes emails to a logger instead of delivering them. It is
// the default driver for local development: activation and reset links
// end up in the server logs, so it should not be used in production.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{
		logger: logger.With(slog.String("sender", "log")),
	}
}

func (s *LogSender) Send(ctx context.Context, from, recipient Address, subject, body string) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "send email",
		slog.String("from", string(from)),
		slog.String("recipient", string(recipient)),
		slog.String("subject", subject),
		slog.String("body", body),
	)
	return nil
}
