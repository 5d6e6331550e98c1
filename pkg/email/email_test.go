package email

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/unuxt/unuxt/pkg/observability"
	"github.com/unuxt/unuxt/pkg/orgs"
)

type captureSender struct {
	messages []*gomail.Message
	err      error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, m...)
	return nil
}

func newTestMailer() (*Mailer, *captureSender) {
	capture := &captureSender{}
	return &Mailer{
		sender:    capture,
		fromName:  "Unuxt",
		fromEmail: "no-reply@unuxt.test",
		logger:    observability.NewLogger(observability.ErrorLevel, io.Discard),
	}, capture
}

func TestMailerSend(t *testing.T) {
	mailer, capture := newTestMailer()

	err := mailer.Send(context.Background(), "alice@example.com", "Hello", "<p>hi</p>", "hi")
	require.NoError(t, err)
	require.Len(t, capture.messages, 1)

	msg := capture.messages[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Hello"}, msg.GetHeader("Subject"))
}

func TestMailerSendCanceledContext(t *testing.T) {
	mailer, capture := newTestMailer()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mailer.Send(ctx, "alice@example.com", "Hello", "<p>hi</p>", "hi")
	assert.Error(t, err)
	assert.Empty(t, capture.messages)
}

func TestInvitationEmail(t *testing.T) {
	msg, err := InvitationEmail("Acme Corp", "Alice", "admin", "https://app.unuxt.test/accept-invitation/tok")
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "Acme Corp")
	assert.Contains(t, msg.HTML, "Alice invited you to join Acme Corp as admin")
	assert.Contains(t, msg.HTML, "https://app.unuxt.test/accept-invitation/tok")
	assert.Contains(t, msg.Text, "https://app.unuxt.test/accept-invitation/tok")
}

func TestInvitationEmailEscapesHTML(t *testing.T) {
	msg, err := InvitationEmail(`<script>alert(1)</script>`, "", "member", "https://app.unuxt.test/x")
	require.NoError(t, err)

	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "A team member invited you")
}

func TestAuthEmails(t *testing.T) {
	tests := []struct {
		name   string
		render func() (Message, error)
		link   string
	}{
		{"verify", func() (Message, error) { return VerifyEmail("https://u/verify?token=a") }, "https://u/verify?token=a"},
		{"reset", func() (Message, error) { return PasswordResetEmail("https://u/reset?token=b") }, "https://u/reset?token=b"},
		{"magic link", func() (Message, error) { return MagicLinkEmail("https://u/magic?token=c") }, "https://u/magic?token=c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := tt.render()
			require.NoError(t, err)
			assert.NotEmpty(t, msg.Subject)
			assert.Contains(t, msg.HTML, tt.link)
			assert.Contains(t, msg.Text, tt.link)
		})
	}
}

func TestNotifierInvitationCreated(t *testing.T) {
	mailer, capture := newTestMailer()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	notifier := NewNotifier(mailer, "https://app.unuxt.test", logger, observability.NewMetrics())

	notifier.InvitationCreated(context.Background(), &orgs.Organization{Name: "Acme Corp"}, &orgs.Invitation{
		Email: "invitee@example.com",
		Role:  "member",
		Token: "unuxt_abc",
	})

	require.Len(t, capture.messages, 1)
	assert.Equal(t, []string{"invitee@example.com"}, capture.messages[0].GetHeader("To"))
}

func TestNotifierSurvivesDeliveryFailure(t *testing.T) {
	mailer, capture := newTestMailer()
	capture.err = assert.AnError
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	notifier := NewNotifier(mailer, "https://app.unuxt.test", logger, nil)

	// Must not panic or propagate.
	notifier.SendMagicLink(context.Background(), "alice@example.com", "unuxt_tok")
	assert.Empty(t, capture.messages)
}
