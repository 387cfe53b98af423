package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/flight-analytics/internal/protocol"
	"github.com/smukkama/flight-analytics/pkg/config"
)

var failedTemplate = template.Must(template.New("failed").Parse(`
Flight Pipeline Stage FAILED
============================

Stage: {{.Stage}}
Run ID: {{.RunID}}
{{- if .Window}}
Window: {{.Window}}
{{- end}}
Started: {{.StartedAt.Format "2006-01-02T15:04:05Z07:00"}}
Finished: {{.FinishedAt.Format "2006-01-02T15:04:05Z07:00"}}

Error:
{{.Error}}

The scheduler re-runs the stage on its next tick. Runs are idempotent;
repeated failures need a look at the raw store, the database or the
upstream credentials.

---
Flight Pipeline Notification System
`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends email notifications
type EmailNotifier struct {
	config *config.SMTPConfig
	logger *zap.Logger
	send   sendFunc
	now    func() time.Time
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{config: cfg, logger: logger, send: smtp.SendMail, now: time.Now}
}

// NotifyStageEvent mails FAILED events and ignores every other status.
// It reports whether a notification went out.
func (e *EmailNotifier) NotifyStageEvent(event *protocol.StageEvent) (bool, error) {
	if event.Status != protocol.StatusFailed {
		return false, nil
	}

	subject := fmt.Sprintf("Flight pipeline stage FAILED - %s (%s)", event.Stage, event.RunID)
	body, err := renderFailed(event)
	if err != nil {
		return false, fmt.Errorf("failed to render email template: %w", err)
	}

	if err := e.sendEmail(subject, body); err != nil {
		return false, err
	}
	return true, nil
}

func renderFailed(event *protocol.StageEvent) (string, error) {
	var buf bytes.Buffer
	if err := failedTemplate.Execute(&buf, event); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *EmailNotifier) sendEmail(subject, body string) error {
	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		e.logger.Warn("SMTP not configured, skipping email",
			zap.String("subject", subject),
			zap.String("body", body))
		return nil
	}

	message := fmt.Sprintf("From: %s\r\n", e.config.From)
	message += fmt.Sprintf("To: %s\r\n", e.config.To)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += fmt.Sprintf("Date: %s\r\n", e.now().Format(time.RFC1123Z))
	message += "\r\n"
	message += body

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.send(addr, auth, e.config.From, []string{e.config.To}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	e.logger.Info("email sent", zap.String("subject", subject))
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	e.logger.Info("SMTP connection test successful", zap.String("addr", addr))
	return nil
}
