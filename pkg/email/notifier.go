package email

import (
	"context"
	"fmt"
	"net/url"

	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/orgs"
)

// Notifier sends the application's transactional emails with deep links
// rooted at the externally visible base URL. It satisfies orgs.Notifier.
type Notifier struct {
	mailer  *Mailer
	baseURL string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewNotifier creates a Notifier. metrics may be nil.
func NewNotifier(mailer *Mailer, baseURL string, logger *observability.Logger, metrics *observability.Metrics) *Notifier {
	return &Notifier{
		mailer:  mailer,
		baseURL: baseURL,
		logger:  logger,
		metrics: metrics,
	}
}

func (n *Notifier) record(templateName, outcome string) {
	if n.metrics != nil {
		n.metrics.EmailsSentTotal.WithLabelValues(templateName, outcome).Inc()
	}
}

func (n *Notifier) deliver(ctx context.Context, templateName, to string, msg Message, err error) {
	if err == nil {
		err = n.mailer.Send(ctx, to, msg.Subject, msg.HTML, msg.Text)
	}
	if err != nil {
		n.record(templateName, "failed")
		n.logger.WithError(err).WithField("template", templateName).Error("failed to send email")
		return
	}
	n.record(templateName, "sent")
}

// InvitationCreated emails an invitation. Called after the invitation
// commits; failures are logged, never propagated.
func (n *Notifier) InvitationCreated(ctx context.Context, org *orgs.Organization, invitation *orgs.Invitation) {
	acceptURL := fmt.Sprintf("%s/accept-invitation/%s", n.baseURL, url.PathEscape(invitation.Token))
	msg, err := InvitationEmail(org.Name, "", string(invitation.Role), acceptURL)
	n.deliver(ctx, "invitation", invitation.Email, msg, err)
}

// SendVerification emails an address verification link.
func (n *Notifier) SendVerification(ctx context.Context, to, token string) {
	verifyURL := fmt.Sprintf("%s/verify-email?token=%s", n.baseURL, url.QueryEscape(token))
	msg, err := VerifyEmail(verifyURL)
	n.deliver(ctx, "verify_email", to, msg, err)
}

// SendPasswordReset emails a password reset link.
func (n *Notifier) SendPasswordReset(ctx context.Context, to, token string) {
	resetURL := fmt.Sprintf("%s/reset-password?token=%s", n.baseURL, url.QueryEscape(token))
	msg, err := PasswordResetEmail(resetURL)
	n.deliver(ctx, "reset_password", to, msg, err)
}

// SendMagicLink emails a one-time sign-in link.
func (n *Notifier) SendMagicLink(ctx context.Context, to, token string) {
	signInURL := fmt.Sprintf("%s/magic-link?token=%s", n.baseURL, url.QueryEscape(token))
	msg, err := MagicLinkEmail(signInURL)
	n.deliver(ctx, "magic_link", to, msg, err)
}
