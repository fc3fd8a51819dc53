package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

type mailSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier sends multipart/alternative emails through an SMTP relay.
type SMTPNotifier struct {
	client mailSender
	from   string
}

// NewSMTPNotifier creates a notifier for host:port. STARTTLS is used when the
// relay offers it; PLAIN auth is used when a username is given.
func NewSMTPNotifier(host string, port int, username, password, from string) (*SMTPNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}
	client, err := mail.NewClient(host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return &SMTPNotifier{client: client, from: from}, nil
}

func (n *SMTPNotifier) SendEmail(ctx context.Context, recipients []string, subject, plainBody, htmlBody string) error {
	if len(recipients) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := buildMessage(n.from, recipients, subject, plainBody, htmlBody, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}
	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, plainBody, htmlBody string, now time.Time) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("invalid recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetDateWithValue(now)
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextPlain, plainBody)
	msg.AddAlternativeString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}
