package notification

import (
	"context"
	"log/slog"
)

const (
	// KindOtp indicates a one-time passcode dispatch.
	KindOtp = "otp"
)

// Message describes an outbound delivery payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Sender delivers messages through an external channel (SMS in production).
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// LoggerSender is a stub implementation that writes deliveries to the logger.
type LoggerSender struct {
	logger *slog.Logger
}

// NewLoggerSender constructs a logging delivery stub.
func NewLoggerSender(logger *slog.Logger) *LoggerSender {
	return &LoggerSender{logger: logger}
}

// Send writes the message to the structured logger.
func (s *LoggerSender) Send(_ context.Context, message Message) error {
	if s == nil || s.logger == nil {
		return nil
	}
	s.logger.Info("delivery", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
