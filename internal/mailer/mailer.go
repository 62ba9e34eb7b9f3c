// Package mailer delivers transactional email. Delivery is best effort:
// callers decide whether a send failure is fatal to their flow.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/auth-console/backend/internal/metrics"
)

// Message is one outbound email
type Message struct {
	To      string
	Subject string
	Body    string
}

// Dispatcher sends transactional email
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds outbound SMTP settings
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPDispatcher sends mail through an authenticated SMTP relay
type SMTPDispatcher struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPDispatcher creates a new SMTPDispatcher instance
func NewSMTPDispatcher(cfg SMTPConfig, logger *slog.Logger) *SMTPDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPDispatcher{cfg: cfg, logger: logger}
}

// Send delivers one message through the configured relay
func (d *SMTPDispatcher) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("From: " + d.cfg.From + "\r\n")
	sb.WriteString("To: " + msg.To + "\r\n")
	sb.WriteString("Subject: " + msg.Subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%s", d.cfg.Host, d.cfg.Port)
	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, d.cfg.From, []string{msg.To}, []byte(sb.String())); err != nil {
		metrics.EmailsSentTotal.WithLabelValues("error").Inc()
		d.logger.Error("Failed to send email", "to", msg.To, "subject", msg.Subject, "error", err)
		return err
	}

	metrics.EmailsSentTotal.WithLabelValues("sent").Inc()
	d.logger.Info("Email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogDispatcher writes messages to the log instead of delivering them.
// Used in development and tests when no SMTP relay is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a new LogDispatcher instance
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

// Send logs the message and reports success
func (d *LogDispatcher) Send(ctx context.Context, msg Message) error {
	d.logger.Info("Email delivery skipped (no SMTP relay configured)",
		"to", msg.To,
		"subject", msg.Subject,
	)
	metrics.EmailsSentTotal.WithLabelValues("skipped").Inc()
	return nil
}
