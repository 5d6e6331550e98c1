// Package email renders and delivers transactional mail: organization
// invitations, email verification, password resets, and magic links.
package email

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/unuxt/unuxt/pkg/config"
	"github.com/unuxt/unuxt/pkg/observability"
)

// sender abstracts gomail's dialer so tests can capture messages.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer delivers mail over SMTP.
type Mailer struct {
	sender    sender
	fromName  string
	fromEmail string
	logger    *observability.Logger
}

// NewMailer creates a Mailer from SMTP settings.
func NewMailer(cfg config.SMTPConfig, logger *observability.Logger) *Mailer {
	return &Mailer{
		sender:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
		logger:    logger,
	}
}

// Send delivers one message with HTML and plain-text alternatives.
func (m *Mailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, m.fromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	if err := m.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.logger.WithField("subject", subject).Debug("email sent")
	return nil
}
