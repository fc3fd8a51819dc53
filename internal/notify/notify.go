// Package notify sends guardian emails about borrows and returns.
package notify

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
)

// Notifier delivers one email to a list of recipients.
type Notifier interface {
	SendEmail(ctx context.Context, recipients []string, subject, plainBody, htmlBody string) error
}

// LogNotifier only logs what it would have sent. It stands in when no mail
// server is configured.
type LogNotifier struct {
	logger logr.Logger
}

func NewLogNotifier(logger logr.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithName("notify")}
}

func (n *LogNotifier) SendEmail(ctx context.Context, recipients []string, subject, plainBody, htmlBody string) error {
	n.logger.Info("email not sent, no mail server configured",
		"to", strings.Join(recipients, ","), "subject", subject)
	return nil
}
