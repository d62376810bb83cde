// Package notifier implements the failure-notification collaborator:
// notify(subject, body), with a pluggable mail-sending transport behind
// the default implementation. Notifier failure is always non-fatal — it
// is combined with, never substituted for, the job failure that
// triggered it (see internal/gjserr.Append).
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nuulab/gjs/internal/gjserr"
)

// Notifier sends a failure notification. Implementations must not
// return an error that should abort the job whose failure triggered the
// call; callers combine a Notifier error with the original failure via
// gjserr.Append instead of propagating it alone.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// NullNotifier discards every notification; used when
// notifications_emails is empty.
type NullNotifier struct{}

// Notify is a no-op.
func (NullNotifier) Notify(ctx context.Context, subject, body string) error { return nil }

// MultiNotifier fans a notification out to every sink, collecting (not
// short-circuiting on) individual failures.
type MultiNotifier struct {
	Sinks []Notifier
}

// Notify calls every sink and combines any errors.
func (m MultiNotifier) Notify(ctx context.Context, subject, body string) error {
	var combined error
	for _, sink := range m.Sinks {
		if err := sink.Notify(ctx, subject, body); err != nil {
			combined = gjserr.Append(combined, gjserr.New(gjserr.NotifierError, err))
		}
	}
	return combined
}

// LogNotifier writes the notification to a zerolog logger instead of
// sending it anywhere; useful in development or when a job runs without
// notifications_from_address configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify logs the notification at warn level.
func (l LogNotifier) Notify(ctx context.Context, subject, body string) error {
	l.Logger.Warn().Str("subject", subject).Msg(body)
	return nil
}

// CallbackNotifier invokes an arbitrary function, useful for tests.
type CallbackNotifier struct {
	Callback func(subject, body string)
}

// Notify invokes the callback.
func (c CallbackNotifier) Notify(ctx context.Context, subject, body string) error {
	c.Callback(subject, body)
	return nil
}

// WebhookNotifier posts the notification as JSON to an HTTP endpoint.
type WebhookNotifier struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier with a 10s timeout client.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Headers: make(map[string]string), Client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify posts {subject, body} as JSON to the configured URL.
func (w *WebhookNotifier) Notify(ctx context.Context, subject, body string) error {
	payload := fmt.Sprintf(`{"subject":%q,"body":%q}`, subject, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, strings.NewReader(payload))
	if err != nil {
		return gjserr.New(gjserr.NotifierError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.Client.Do(req)
	if err != nil {
		return gjserr.New(gjserr.NotifierError, err)
	}
	defer resp.Body.Close()
	return nil
}

// SlackNotifier posts the notification as a Slack incoming-webhook
// message.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

// NewSlackNotifier builds a SlackNotifier with a 10s timeout client.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{WebhookURL: webhookURL, Channel: channel, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify posts a formatted message to the configured Slack webhook.
func (s *SlackNotifier) Notify(ctx context.Context, subject, body string) error {
	text := fmt.Sprintf(":x: *%s*\n%s", subject, body)
	payload := fmt.Sprintf(`{"text":%q`, text)
	if s.Channel != "" {
		payload += fmt.Sprintf(`,"channel":%q`, s.Channel)
	}
	payload += "}"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(payload))
	if err != nil {
		return gjserr.New(gjserr.NotifierError, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return gjserr.New(gjserr.NotifierError, err)
	}
	defer resp.Body.Close()
	return nil
}

// SMTPMailer is the pluggable mail-sending collaborator SMTPNotifier
// calls; tests substitute a fake instead of opening a real SMTP
// connection.
type SMTPMailer interface {
	SendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// netSMTPMailer adapts the standard library's smtp.SendMail to
// SMTPMailer.
type netSMTPMailer struct{}

func (netSMTPMailer) SendMail(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, auth, from, to, msg)
}

// SMTPNotifier is the default Notifier: it composes a UTF-8 email and
// hands it to a pluggable mail-sending collaborator.
type SMTPNotifier struct {
	Host         string
	Port         int
	Auth         smtp.Auth
	From         string
	To           []string
	SubjectPrefix string

	Mailer SMTPMailer
}

// NewSMTPNotifier builds an SMTPNotifier using the real net/smtp
// transport.
func NewSMTPNotifier(host string, port int, from string, to []string, subjectPrefix string) *SMTPNotifier {
	return &SMTPNotifier{
		Host:          host,
		Port:          port,
		From:          from,
		To:            to,
		SubjectPrefix: subjectPrefix,
		Mailer:        netSMTPMailer{},
	}
}

// Notify composes and sends a UTF-8 email. A send failure is wrapped as
// a NotifierError; it is the caller's responsibility to treat it as
// non-fatal.
func (s *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	if len(s.To) == 0 {
		return nil
	}

	fullSubject := subject
	if s.SubjectPrefix != "" {
		fullSubject = s.SubjectPrefix + " " + subject
	}

	msg := composeMessage(s.From, s.To, fullSubject, body)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	if err := s.Mailer.SendMail(addr, s.Auth, s.From, s.To, msg); err != nil {
		return gjserr.New(gjserr.NotifierError, err)
	}
	return nil
}

func composeMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
