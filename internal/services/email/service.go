// Package email sends scheduled restart notices and server alerts over SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for email notifications.
type Service interface {
	SendScheduledRestartNotification(ctx context.Context, task models.ScheduledTask, emails []string) error
	SendServerAlert(ctx context.Context, server models.Server, message string, emails []string) error
}

// Sender wraps smtp.SendMail for mocking.
type Sender interface {
	SendMail(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// DefaultSender sends mail with net/smtp.
type DefaultSender struct{}

// SendMail delivers msg through the SMTP server at addr.
func (DefaultSender) SendMail(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	return smtp.SendMail(addr, a, from, to, msg)
}

// Impl implements the email Service interface.
type Impl struct {
	sender Sender
	cfg    models.EmailConfig
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a new email service.
func New(logger zerolog.Logger, cfg models.EmailConfig) *Impl {
	return &Impl{
		sender: DefaultSender{},
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// NewWithSender creates a new email service with a custom sender (for testing).
func NewWithSender(logger zerolog.Logger, cfg models.EmailConfig, sender Sender) *Impl {
	return &Impl{
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// SendScheduledRestartNotification announces that a scheduled restart has started.
func (s *Impl) SendScheduledRestartNotification(ctx context.Context, task models.ScheduledTask, emails []string) error {
	subject := "Scheduled Server Restart: " + task.Name

	var b strings.Builder
	b.WriteString("<h2>Scheduled Server Restart</h2>\n")
	fmt.Fprintf(&b, "<p><strong>Task:</strong> %s</p>\n", html.EscapeString(task.Name))
	fmt.Fprintf(&b, "<p><strong>Scheduled Time:</strong> %s</p>\n", task.ScheduledTime.Format(time.RFC1123))
	fmt.Fprintf(&b, "<p><strong>Servers:</strong> %d server(s)</p>\n", len(task.ServerIDs))
	b.WriteString("<p>The scheduled server restart has been initiated.</p>\n")

	s.logger.Info().
		Str("task_id", task.ID).
		Strs("to", emails).
		Msg("sending scheduled restart email")

	return s.send(ctx, emails, subject, b.String())
}

// SendServerAlert reports a server status change.
func (s *Impl) SendServerAlert(ctx context.Context, server models.Server, message string, emails []string) error {
	subject := "Server Alert: " + server.Name

	var b strings.Builder
	b.WriteString("<h2>Server Alert</h2>\n")
	fmt.Fprintf(&b, "<p><strong>Server:</strong> %s (%s)</p>\n", html.EscapeString(server.Name), html.EscapeString(server.Hostname))
	if server.IPAddress != "" {
		fmt.Fprintf(&b, "<p><strong>IP Address:</strong> %s</p>\n", html.EscapeString(server.IPAddress))
	}
	fmt.Fprintf(&b, "<p><strong>Status:</strong> %s</p>\n", html.EscapeString(message))
	fmt.Fprintf(&b, "<p><strong>Time:</strong> %s</p>\n", s.now().Format(time.RFC1123))

	s.logger.Info().
		Str("server_id", server.ID).
		Strs("to", emails).
		Msg("sending server alert email")

	return s.send(ctx, emails, subject, b.String())
}

func (s *Impl) send(ctx context.Context, to []string, subject, body string) error {
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			recipients = append(recipients, addr)
		}
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := s.buildMessage(recipients, subject, body)

	if err := s.sender.SendMail(addr, auth, s.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("failed to send email via %s: %w", addr, err)
	}

	s.logger.Debug().Str("subject", subject).Msg("email sent")
	return nil
}

func (s *Impl) buildMessage(to []string, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.Bytes()
}
