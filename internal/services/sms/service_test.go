package sms

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	requests []sendRequest
	doFunc   func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body sendRequest
	raw, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(raw, &body)
	m.requests = append(m.requests, body)

	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.SMSConfig {
	return models.SMSConfig{APIURL: "http://sms.example.com/send", Source: "GORESTART"}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Restart done", "Restart done"},
		{"punctuation", "Tâche: db-01 (ok)!", "Tche db01 ok"},
		{"newlines kept", "line1\nline2", "line1\nline2"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Sanitize(tt.input))
		})
	}
}

func TestSanitize_Truncates(t *testing.T) {
	long := strings.Repeat("a", 200)
	assert.Len(t, Sanitize(long), MaxMessageLength)

	withPunct := strings.Repeat("a.", 200)
	assert.Equal(t, strings.Repeat("a", MaxMessageLength), Sanitize(withPunct))
}

func TestSendSMS_Success(t *testing.T) {
	var gotContentType string
	var got sendRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	svc := NewWithClient(testLogger(), models.SMSConfig{APIURL: server.URL, Source: "OPS"}, server.Client())

	err := svc.SendSMS(context.Background(), "+21611111111", "Restart: done!")

	require.NoError(t, err)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, sendRequest{MessageText: "Restart done", PhoneNumber: "+21611111111", Source: "OPS"}, got)
}

func TestSendSMS_APIError(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		},
	}
	svc := NewWithClient(testLogger(), testConfig(), client)

	err := svc.SendSMS(context.Background(), "+1", "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSendSMS_HTTPError(t *testing.T) {
	client := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewWithClient(testLogger(), testConfig(), client)

	err := svc.SendSMS(context.Background(), "+1", "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send request")
}

func TestSendScheduledTaskSMS(t *testing.T) {
	client := &mockHTTPClient{}
	svc := NewWithClient(testLogger(), testConfig(), client)

	task := models.ScheduledTask{ID: "task-1", Name: "nightly-db", ServerIDs: []string{"db", "app"}}
	err := svc.SendScheduledTaskSMS(context.Background(), task, []string{" +1 ", "", "+2"})

	require.NoError(t, err)
	require.Len(t, client.requests, 2)
	assert.Equal(t, "+1", client.requests[0].PhoneNumber)
	assert.Equal(t, "+2", client.requests[1].PhoneNumber)
	assert.Equal(t, "Scheduled restart nightlydb started for 2 servers", client.requests[0].MessageText)
	assert.Equal(t, "GORESTART", client.requests[0].Source)
}

func TestSendScheduledTaskSMS_ContinuesAfterFailure(t *testing.T) {
	client := &mockHTTPClient{}
	client.doFunc = func(req *http.Request) (*http.Response, error) {
		if len(client.requests) == 1 {
			return nil, errors.New("timeout")
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
	svc := NewWithClient(testLogger(), testConfig(), client)

	err := svc.SendScheduledTaskSMS(context.Background(), models.ScheduledTask{Name: "t"}, []string{"+1", "+2"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "+1")
	assert.NotContains(t, err.Error(), "+2")
	assert.Len(t, client.requests, 2)
}
