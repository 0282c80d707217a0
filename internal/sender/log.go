package sender

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carepulse/notify/internal/domain"
)

// LogSender writes the notification to the log instead of delivering it.
// Used for the in-app channel in single-process deployments and as the
// fallback in development environments.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n *domain.Notification) (*Response, error) {
	s.logger.Info("notification delivered to log",
		zap.String("id", n.ID),
		zap.String("channel", string(n.Channel)),
		zap.String("recipient", n.Recipient),
		zap.String("subject", n.Content.Subject),
	)
	return &Response{ProviderMsgID: uuid.New().String(), Delivered: true}, nil
}

var _ Sender = (*LogSender)(nil)
