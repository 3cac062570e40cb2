package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockProber struct {
	pingFunc func(ctx context.Context, host string) (*models.ProbeResult, error)
}

func (m *mockProber) Ping(ctx context.Context, host string) (*models.ProbeResult, error) {
	if m.pingFunc != nil {
		return m.pingFunc(ctx, host)
	}
	return &models.ProbeResult{Reachable: true}, nil
}

func (m *mockProber) TCP(ctx context.Context, host string, port int) (*models.ProbeResult, error) {
	return &models.ProbeResult{Reachable: true}, nil
}

func unreachable(ctx context.Context, host string) (*models.ProbeResult, error) {
	return &models.ProbeResult{Error: errors.New("100% packet loss")}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestWake_Success_NoHost(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}

	svc := NewWithClient(testLogger(), wolClient, &mockProber{})

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClient(testLogger(), &mockWOLClient{}, &mockProber{})

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:  "invalid-mac",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), wolClient, &mockProber{})

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		BroadcastIP: "192.168.1.255",
	})

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.Contains(t, result.Error.Error(), "network error")
}

func TestWake_WaitsUntilHostAnswers(t *testing.T) {
	var calls atomic.Int32
	prober := &mockProber{
		pingFunc: func(ctx context.Context, host string) (*models.ProbeResult, error) {
			if calls.Add(1) < 3 {
				return &models.ProbeResult{Error: errors.New("timeout")}, nil
			}
			return &models.ProbeResult{Reachable: true}, nil
		},
	}

	svc := NewWithClient(testLogger(), &mockWOLClient{}, prober)

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Host:         "db1.lan",
		WaitTimeout:  10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWake_WaitTimeout(t *testing.T) {
	svc := NewWithClient(testLogger(), &mockWOLClient{}, &mockProber{pingFunc: unreachable})

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Host:         "db1.lan",
		WaitTimeout:  50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Contains(t, result.Error.Error(), "timeout waiting for db1.lan")
}

func TestWake_ProbeError(t *testing.T) {
	prober := &mockProber{
		pingFunc: func(ctx context.Context, host string) (*models.ProbeResult, error) {
			return nil, errors.New("host is required")
		},
	}

	svc := NewWithClient(testLogger(), &mockWOLClient{}, prober)

	result, err := svc.Wake(context.Background(), models.WakeRequest{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Host:         "db1.lan",
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.False(t, result.TargetReady)
	assert.Contains(t, result.Error.Error(), "probing db1.lan")
}

func TestWake_ContextCancelled(t *testing.T) {
	svc := NewWithClient(testLogger(), &mockWOLClient{}, &mockProber{pingFunc: unreachable})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := svc.Wake(ctx, models.WakeRequest{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Host:         "db1.lan",
		WaitTimeout:  10 * time.Second,
		PollInterval: 100 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	assert.Equal(t, context.Canceled, result.Error)
}
