// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendTaskNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TaskNotification) (*models.NotificationResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendTaskNotification reports the outcome of a scheduled restart via Telegram.
func (s *Impl) SendTaskNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TaskNotification) (*models.NotificationResult, error) {
	result := &models.NotificationResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("task", msg.TaskName).
		Str("status", string(msg.Status)).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      s.formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

func (s *Impl) formatMessage(msg models.TaskNotification) string {
	var b bytes.Buffer

	if msg.Status == models.TaskStatusCompleted {
		b.WriteString("✅ <b>Scheduled Restart Completed</b>\n\n")
	} else {
		b.WriteString("❌ <b>Scheduled Restart Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("📋 <b>Task:</b> %s\n", escapeHTML(msg.TaskName)))
	b.WriteString(fmt.Sprintf("⏰ <b>Scheduled:</b> %s\n", msg.ScheduledTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("🖥 <b>Servers:</b> %d\n", msg.ServerCount))
	if msg.RunID != "" {
		b.WriteString(fmt.Sprintf("🔖 <b>Run:</b> <code>%s</code>\n", msg.RunID))
	}

	if msg.Details != nil {
		b.WriteString("\n<b>📊 Results:</b>\n")
		b.WriteString(fmt.Sprintf("  • Restarted: %d\n", len(msg.Details.Servers)))
		for _, srv := range msg.Details.Servers {
			b.WriteString(fmt.Sprintf("    ✔ %s\n", escapeHTML(srv.Name)))
		}
		b.WriteString(fmt.Sprintf("  • Errors: %d\n", len(msg.Details.Errors)))
		for _, f := range msg.Details.Errors {
			b.WriteString(fmt.Sprintf("  • %s (%s): <code>%s</code>\n", escapeHTML(f.Name), f.Kind, escapeHTML(f.Error)))
		}
	}

	if msg.ErrorMessage != "" {
		b.WriteString("\n<b>⚠️ Error Details:</b>\n")
		b.WriteString(fmt.Sprintf("  • Error: <code>%s</code>\n", escapeHTML(msg.ErrorMessage)))
	}

	return b.String()
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
