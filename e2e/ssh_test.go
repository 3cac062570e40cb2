//go:build e2e

package e2e

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHSetup(t *testing.T) (models.SSHConfig, models.SSHTarget) {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	cfg := models.SSHConfig{
		Username:       user,
		KeyPath:        keyPath,
		KnownHostsPath: os.Getenv("TEST_SSH_KNOWN_HOSTS"),
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 30 * time.Second,
	}
	return cfg, models.SSHTarget{Host: host, Port: port}
}

func TestSSHTestConnection_E2E(t *testing.T) {
	cfg, target := getSSHSetup(t)

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.TestConnection(context.Background(), target)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
	assert.Nil(t, result.Error)
}

func TestSSHExecute_E2E(t *testing.T) {
	cfg, target := getSSHSetup(t)

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.Execute(context.Background(), target, "echo restart-check")

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
	assert.Equal(t, "restart-check", result.Output)
}

func TestSSHExecuteNonZeroExit_E2E(t *testing.T) {
	cfg, target := getSSHSetup(t)

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.Execute(context.Background(), target, "exit 3")

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 3, *result.ExitCode)
	assert.NotNil(t, result.Error)
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	cfg := models.SSHConfig{
		Username:       "root",
		KeyPath:        keyPath,
		ConnectTimeout: 5 * time.Second,
	}
	target := models.SSHTarget{Host: "192.168.255.254", Port: 22} // non-routable

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.TestConnection(ctx, target)

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
}

func TestSSHInvalidKey_E2E(t *testing.T) {
	cfg := models.SSHConfig{
		Username:   "root",
		PrivateKey: []byte("invalid key"),
	}

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.TestConnection(context.Background(), models.SSHTarget{Host: "localhost", Port: 22})

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "parse private key")
}

// WARNING: This test reboots the target host.
func TestSSHReboot_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_REBOOT_ENABLED") != "true" {
		t.Skip("TEST_SSH_REBOOT_ENABLED is not true - skipping actual reboot test")
	}

	cfg, target := getSSHSetup(t)

	svc := ssh.New(testLogger(), cfg)

	result, err := svc.Execute(context.Background(), target, "reboot")

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Nil(t, result.Error, "a dropped connection during reboot counts as success")
}
