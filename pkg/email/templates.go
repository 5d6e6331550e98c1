package email

import (
	"fmt"
	"html/template"
	"strings"
)

const brandName = "Unuxt"

// layout wraps every HTML email in the shared branded shell.
var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background-color:#f4f4f7;font-family:Helvetica,Arial,sans-serif;">
  <table width="100%" cellpadding="0" cellspacing="0">
    <tr><td align="center" style="padding:32px 16px;">
      <table width="560" cellpadding="0" cellspacing="0" style="background:#ffffff;border-radius:8px;padding:32px;">
        <tr><td style="font-size:20px;font-weight:bold;padding-bottom:16px;">{{.Brand}}</td></tr>
        <tr><td style="font-size:16px;font-weight:bold;padding-bottom:8px;">{{.Title}}</td></tr>
        <tr><td style="font-size:14px;color:#51545e;line-height:1.6;padding-bottom:24px;">{{.Body}}</td></tr>
        {{if .ActionURL}}
        <tr><td align="center" style="padding-bottom:24px;">
          <a href="{{.ActionURL}}" style="background:#16a34a;color:#ffffff;text-decoration:none;padding:12px 24px;border-radius:6px;font-size:14px;display:inline-block;">{{.ActionLabel}}</a>
        </td></tr>
        <tr><td style="font-size:12px;color:#6b6e76;line-height:1.5;">If the button does not work, copy this link into your browser:<br>{{.ActionURL}}</td></tr>
        {{end}}
      </table>
      <table width="560"><tr><td style="font-size:12px;color:#a8aaaf;padding-top:16px;" align="center">{{.Footer}}</td></tr></table>
    </td></tr>
  </table>
</body>
</html>`))

type templateData struct {
	Brand       string
	Title       string
	Body        string
	ActionURL   string
	ActionLabel string
	Footer      string
}

// Message is a rendered email ready for delivery.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

func render(data templateData) (Message, error) {
	data.Brand = brandName
	if data.Footer == "" {
		data.Footer = fmt.Sprintf("You received this email because of your %s account.", brandName)
	}

	var html strings.Builder
	if err := layout.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render email template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n%s\n", data.Title, data.Body)
	if data.ActionURL != "" {
		fmt.Fprintf(&text, "\n%s: %s\n", data.ActionLabel, data.ActionURL)
	}

	return Message{HTML: html.String(), Text: text.String()}, nil
}

// InvitationEmail renders an organization invitation.
func InvitationEmail(orgName, inviterName, role, acceptURL string) (Message, error) {
	if inviterName == "" {
		inviterName = "A team member"
	}
	msg, err := render(templateData{
		Title:       fmt.Sprintf("You have been invited to join %s", orgName),
		Body:        fmt.Sprintf("%s invited you to join %s as %s. This invitation expires, so accept it soon.", inviterName, orgName, role),
		ActionURL:   acceptURL,
		ActionLabel: "Accept invitation",
	})
	if err != nil {
		return Message{}, err
	}
	msg.Subject = fmt.Sprintf("Invitation to join %s on %s", orgName, brandName)
	return msg, nil
}

// VerifyEmail renders the address verification email.
func VerifyEmail(verifyURL string) (Message, error) {
	msg, err := render(templateData{
		Title:       "Verify your email address",
		Body:        "Confirm this address belongs to you to finish setting up your account.",
		ActionURL:   verifyURL,
		ActionLabel: "Verify email",
	})
	if err != nil {
		return Message{}, err
	}
	msg.Subject = fmt.Sprintf("Verify your %s email address", brandName)
	return msg, nil
}

// PasswordResetEmail renders the password reset email.
func PasswordResetEmail(resetURL string) (Message, error) {
	msg, err := render(templateData{
		Title:       "Reset your password",
		Body:        "We received a request to reset your password. If this was not you, you can ignore this email.",
		ActionURL:   resetURL,
		ActionLabel: "Reset password",
	})
	if err != nil {
		return Message{}, err
	}
	msg.Subject = fmt.Sprintf("Reset your %s password", brandName)
	return msg, nil
}

// MagicLinkEmail renders the passwordless sign-in email.
func MagicLinkEmail(signInURL string) (Message, error) {
	msg, err := render(templateData{
		Title:       "Your sign-in link",
		Body:        "Click the button below to sign in. The link is valid for a short time and can be used once.",
		ActionURL:   signInURL,
		ActionLabel: "Sign in",
	})
	if err != nil {
		return Message{}, err
	}
	msg.Subject = fmt.Sprintf("Sign in to %s", brandName)
	return msg, nil
}
