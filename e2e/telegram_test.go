//go:build e2e

package e2e

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/telegram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTelegramConfig(t *testing.T) models.TelegramConfig {
	t.Helper()

	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	chatID := os.Getenv("TEST_TELEGRAM_CHAT_ID")
	if chatID == "" {
		t.Skip("TEST_TELEGRAM_CHAT_ID not set")
	}

	return models.TelegramConfig{
		BotToken: botToken,
		ChatID:   chatID,
	}
}

func TestTelegramSendCompletedTask_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	msg := models.TaskNotification{
		TaskName:      "e2e nightly restart",
		ScheduledTime: time.Now().Add(-5 * time.Minute),
		ServerCount:   2,
		Status:        models.TaskStatusCompleted,
		RunID:         "e2e-run",
		Details: &models.RunDetails{
			Servers: []models.ServerSuccess{{ServerID: "app", Name: "app-01", Hostname: "app-01.lan", Timestamp: time.Now()}},
			Errors: []models.ServerFailure{{
				ServerID: "db",
				Name:     "db-01",
				Kind:     models.ErrorKindUnreachable,
				Error:    "Server is not reachable",
			}},
		},
	}

	result, err := svc.SendTaskNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramSendFailedTask_E2E(t *testing.T) {
	cfg := getTelegramConfig(t)

	svc := telegram.New(testLogger())

	msg := models.TaskNotification{
		TaskName:      "e2e nightly restart",
		ScheduledTime: time.Now().Add(-2 * time.Minute),
		ServerCount:   1,
		Status:        models.TaskStatusFailed,
		ErrorMessage:  "No eligible servers found",
	}

	result, err := svc.SendTaskNotification(context.Background(), cfg, msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)
}

func TestTelegramInvalidToken_E2E(t *testing.T) {
	cfg := models.TelegramConfig{
		BotToken: "invalid:token",
		ChatID:   "-100123456789",
	}

	svc := telegram.New(testLogger())

	result, err := svc.SendTaskNotification(context.Background(), cfg, models.TaskNotification{
		TaskName: "test",
		Status:   models.TaskStatusCompleted,
	})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestTelegramInvalidChatID_E2E(t *testing.T) {
	botToken := os.Getenv("TEST_TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		t.Skip("TEST_TELEGRAM_BOT_TOKEN not set")
	}

	cfg := models.TelegramConfig{
		BotToken: botToken,
		ChatID:   "invalid-chat-id",
	}

	svc := telegram.New(testLogger())

	result, err := svc.SendTaskNotification(context.Background(), cfg, models.TaskNotification{
		TaskName: "test",
		Status:   models.TaskStatusCompleted,
	})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
