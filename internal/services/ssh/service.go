// Package ssh runs restart commands on remote hosts.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Service defines the interface for remote command execution.
type Service interface {
	Execute(ctx context.Context, target models.SSHTarget, command string) (*models.CommandResult, error)
	TestConnection(ctx context.Context, target models.SSHTarget) (*models.CommandResult, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	CombinedOutput(cmd string) ([]byte, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) CombinedOutput(cmd string) ([]byte, error) {
	return s.session.CombinedOutput(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	cfg           models.SSHConfig
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger, cfg models.SSHConfig) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		cfg:           cfg,
		logger:        logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, cfg models.SSHConfig, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		cfg:           cfg,
		logger:        logger,
	}
}

func (s *Impl) buildConfig() (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	// Load private key from file or use provided key
	if len(s.cfg.PrivateKey) > 0 {
		key = s.cfg.PrivateKey
	} else if s.cfg.KeyPath != "" {
		key, err = os.ReadFile(s.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", s.cfg.KeyPath, err)
		}
	} else {
		return nil, fmt.Errorf("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in verification via known_hosts
	if s.cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(s.cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts from %s: %w", s.cfg.KnownHostsPath, err)
		}
	}

	return &ssh.ClientConfig{
		User: s.cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.ConnectTimeout,
	}, nil
}

// connect dials the target, giving up when ctx is done.
func (s *Impl) connect(ctx context.Context, target models.SSHTarget) (SSHClient, error) {
	sshConfig, err := s.buildConfig()
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(target.Port))

	type dialResult struct {
		client SSHClient
		err    error
	}
	clientChan := make(chan dialResult, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// Close a client that connects after we gave up.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-clientChan:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect: %w", res.err)
		}
		return res.client, nil
	}
}

// run executes cmd on a fresh session, bounded by ctx.
func (s *Impl) run(ctx context.Context, client SSHClient, cmd string) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type runResult struct {
		output []byte
		err    error
	}
	done := make(chan runResult, 1)

	go func() {
		output, err := session.CombinedOutput(cmd)
		done <- runResult{output, err}
	}()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, ctx.Err()
	case res := <-done:
		return res.output, res.err
	}
}

// Execute runs command on the target host.
//
// An exit status of 0, or no exit status at all because the host dropped the
// connection while going down, counts as success.
func (s *Impl) Execute(ctx context.Context, target models.SSHTarget, command string) (*models.CommandResult, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("command is required")
	}

	result := &models.CommandResult{}

	s.logger.Info().
		Str("host", target.Host).
		Int("port", target.Port).
		Str("user", s.cfg.Username).
		Str("command", command).
		Msg("executing remote command")

	client, err := s.connect(ctx, target)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is returned in the result
	}
	defer client.Close()

	runCtx := ctx
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	output, err := s.run(runCtx, client, command)
	result.Output = strings.TrimSpace(string(output))

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError

	switch {
	case err == nil:
		result.CommandRun = true
		code := 0
		result.ExitCode = &code
	case errors.As(err, &exitErr):
		result.CommandRun = true
		code := exitErr.ExitStatus()
		result.ExitCode = &code
		msg := result.Output
		if msg == "" {
			msg = fmt.Sprintf("command failed with code %d", code)
		}
		result.Error = errors.New(msg)
	case errors.As(err, &missingErr), errors.Is(err, io.EOF):
		// The host went down before reporting an exit status.
		result.CommandRun = true
		s.logger.Warn().
			Err(err).
			Str("host", target.Host).
			Msg("remote command returned without exit status (expected for reboot)")
	case runCtx.Err() != nil:
		result.Error = fmt.Errorf("command timed out: %w", runCtx.Err())
	default:
		result.Error = err
	}

	s.logger.Info().
		Str("host", target.Host).
		Bool("command_run", result.CommandRun).
		Bool("success", result.Error == nil).
		Str("output", result.Output).
		Msg("remote command finished")

	return result, nil
}

// TestConnection verifies SSH connectivity without restarting anything.
func (s *Impl) TestConnection(ctx context.Context, target models.SSHTarget) (*models.CommandResult, error) {
	result := &models.CommandResult{}

	s.logger.Debug().
		Str("host", target.Host).
		Int("port", target.Port).
		Msg("testing SSH connection")

	client, err := s.connect(ctx, target)
	if err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is returned in the result
	}
	defer client.Close()

	// Run a simple command to verify connectivity
	output, err := s.run(ctx, client, "echo OK")
	result.Output = string(output)
	result.CommandRun = err == nil

	if err != nil {
		result.Error = fmt.Errorf("test command failed: %w", err)
	}

	return result, nil
}
