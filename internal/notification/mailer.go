package notification

import (
	"bytes"
	"context"
	"html/template"
	"net/url"
	"time"
)

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<html><body>
		<h2>Confirm Your Email Address</h2>
		<p>Thank you for registering! Please confirm your email address to activate your account.</p>
		<p><a href="{{.Link}}">Click here to confirm your email</a></p>
		<p>Or copy this link to your browser: {{.Link}}</p>
		{{- if .TTL}}
		<p>This link will expire in {{.TTL}}.</p>
		{{- end}}
	</body></html>`))

var resetTemplate = template.Must(template.New("reset").Parse(`<html><body>
		<h2>Reset Your Password</h2>
		<p>A password reset has been requested for your account.</p>
		<p><a href="{{.Link}}">Click here to reset your password</a></p>
		<p>Or copy this link to your browser: {{.Link}}</p>
		{{- if .TTL}}
		<p>This link will expire in {{.TTL}}.</p>
		{{- end}}
		<p>If you did not request this password reset, please ignore this email.</p>
	</body></html>`))

// MailerConfig controls the links placed in outgoing mail.
type MailerConfig struct {
	// ConfirmURL and ResetURL receive the token as the "token" query parameter.
	ConfirmURL      string
	ResetURL        string
	ConfirmationTTL time.Duration
	ResetTTL        time.Duration
}

// Mailer composes account emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	config MailerConfig
}

func NewMailer(sender Sender, config MailerConfig) *Mailer {
	return &Mailer{sender: sender, config: config}
}

// SendConfirmation mails the account confirmation link.
func (m *Mailer) SendConfirmation(ctx context.Context, to, token string) error {
	body, err := render(confirmationTemplate, link(m.config.ConfirmURL, token), m.config.ConfirmationTTL)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, "Confirm Your Email Address", body)
}

// SendPasswordReset mails the password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, token string) error {
	body, err := render(resetTemplate, link(m.config.ResetURL, token), m.config.ResetTTL)
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, to, "Reset Your Password", body)
}

func link(base, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func render(t *template.Template, link string, ttl time.Duration) (string, error) {
	data := struct {
		Link string
		TTL  string
	}{Link: link}
	if ttl > 0 {
		data.TTL = ttl.String()
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
