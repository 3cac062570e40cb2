// Package sms sends text messages through an HTTP SMS gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
)

// MaxMessageLength is the gateway's limit on message text.
const MaxMessageLength = 150

var disallowed = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

// Service defines the interface for SMS notifications.
type Service interface {
	SendSMS(ctx context.Context, phone, text string) error
	SendScheduledTaskSMS(ctx context.Context, task models.ScheduledTask, phones []string) error
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the SMS Service interface.
type Impl struct {
	httpClient HTTPClient
	cfg        models.SMSConfig
	logger     zerolog.Logger
}

// New creates a new SMS service.
func New(logger zerolog.Logger, cfg models.SMSConfig) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:    cfg,
		logger: logger,
	}
}

// NewWithClient creates a new SMS service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, cfg models.SMSConfig, httpClient HTTPClient) *Impl {
	return &Impl{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
	}
}

// sendRequest is the request body of the gateway.
type sendRequest struct {
	MessageText string `json:"messageText"`
	PhoneNumber string `json:"phoneNumber"`
	Source      string `json:"source"`
}

// Sanitize reduces text to letters, digits and whitespace and truncates it
// to MaxMessageLength characters.
func Sanitize(text string) string {
	clean := disallowed.ReplaceAllString(text, "")
	if len(clean) > MaxMessageLength {
		clean = clean[:MaxMessageLength]
	}
	return clean
}

// SendSMS sends text to a single phone number.
func (s *Impl) SendSMS(ctx context.Context, phone, text string) error {
	body, err := json.Marshal(sendRequest{
		MessageText: Sanitize(text),
		PhoneNumber: phone,
		Source:      s.cfg.Source,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("SMS API returned status %d", resp.StatusCode)
	}

	s.logger.Info().Str("phone", phone).Msg("SMS sent successfully")
	return nil
}

// SendScheduledTaskSMS notifies every phone number that a scheduled restart
// started. Failures are logged per number and returned joined.
func (s *Impl) SendScheduledTaskSMS(ctx context.Context, task models.ScheduledTask, phones []string) error {
	text := fmt.Sprintf("Scheduled restart %s started for %d servers", task.Name, len(task.ServerIDs))

	var errs []error
	for _, phone := range phones {
		phone = strings.TrimSpace(phone)
		if phone == "" {
			continue
		}
		if err := s.SendSMS(ctx, phone, text); err != nil {
			s.logger.Error().
				Err(err).
				Str("phone", phone).
				Str("task_id", task.ID).
				Msg("failed to send SMS")
			errs = append(errs, fmt.Errorf("%s: %w", phone, err))
		}
	}
	return errors.Join(errs...)
}
