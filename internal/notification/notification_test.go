package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordingSender struct {
	to, subject, body string
	err               error
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

func TestMailer_SendConfirmation(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailer(sender, MailerConfig{ConfirmURL: "https://app.example.com/confirm"})

	if err := m.SendConfirmation(context.Background(), "ann@example.com", "tok+/="); err != nil {
		t.Fatalf("SendConfirmation() error = %v", err)
	}
	if sender.to != "ann@example.com" {
		t.Errorf("to = %q", sender.to)
	}
	if sender.subject != "Confirm Your Email Address" {
		t.Errorf("subject = %q", sender.subject)
	}
	if !strings.Contains(sender.body, "https://app.example.com/confirm?token=tok%2B%2F%3D") {
		t.Errorf("body missing escaped link: %s", sender.body)
	}
	if strings.Contains(sender.body, "expire") {
		t.Error("non-expiring confirmation should not mention expiry")
	}
}

func TestMailer_SendPasswordReset(t *testing.T) {
	sender := &recordingSender{}
	m := NewMailer(sender, MailerConfig{ResetURL: "https://app.example.com/reset?lang=en", ResetTTL: time.Hour})

	if err := m.SendPasswordReset(context.Background(), "ann@example.com", "abc"); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}
	if !strings.Contains(sender.body, "lang=en&amp;token=abc") {
		t.Errorf("body missing link with existing query: %s", sender.body)
	}
	if !strings.Contains(sender.body, "expire in 1h0m0s") {
		t.Errorf("body missing expiry: %s", sender.body)
	}
}

func TestMailer_PropagatesSenderError(t *testing.T) {
	boom := errors.New("relay down")
	m := NewMailer(&recordingSender{err: boom}, MailerConfig{ConfirmURL: "http://x"})

	if err := m.SendConfirmation(context.Background(), "a@example.com", "t"); !errors.Is(err, boom) {
		t.Errorf("SendConfirmation() error = %v, want %v", err, boom)
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("noreply@example.com", "Accounts", "ann@example.com", "Hello", "<p>hi</p>"))

	for _, want := range []string{
		"From: Accounts <noreply@example.com>\r\n",
		"To: ann@example.com\r\n",
		"Subject: Hello\r\n",
		"Content-Type: text/html; charset=UTF-8\r\n\r\n<p>hi</p>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestLogSender(t *testing.T) {
	if err := NewLogSender(nil).Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Errorf("Send() error = %v", err)
	}
}
