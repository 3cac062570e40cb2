// Package probe provides bounded-time reachability checks.
package probe

import (
	"context"
	"fmt"
	"math"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for reachability probes.
type Service interface {
	Ping(ctx context.Context, host string) (*models.ProbeResult, error)
	TCP(ctx context.Context, host string, port int) (*models.ProbeResult, error)
}

// CommandExecutor allows mocking exec.Command in tests.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args ...string) ([]byte, error)
}

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// Execute runs a command and returns its output.
func (e *DefaultExecutor) Execute(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Dialer allows mocking TCP connects in tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Impl implements the probe Service interface.
type Impl struct {
	executor CommandExecutor
	dialer   Dialer
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a new probe service.
func New(logger zerolog.Logger, timeout time.Duration) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		dialer:   &net.Dialer{},
		timeout:  timeout,
		logger:   logger,
	}
}

// NewWithDeps creates a new probe service with a custom executor and dialer (for testing).
func NewWithDeps(logger zerolog.Logger, timeout time.Duration, executor CommandExecutor, dialer Dialer) *Impl {
	return &Impl{
		executor: executor,
		dialer:   dialer,
		timeout:  timeout,
		logger:   logger,
	}
}

// Ping sends a single ICMP echo request via the system ping binary.
func (s *Impl) Ping(ctx context.Context, host string) (*models.ProbeResult, error) {
	result := &models.ProbeResult{}
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// -W is the per-reply wait in whole seconds; the context bounds the whole call.
	wait := int(math.Max(1, math.Ceil(s.timeout.Seconds())))

	start := time.Now()
	output, err := s.executor.Execute(ctx, "ping", "-c", "1", "-W", strconv.Itoa(wait), host)
	result.Latency = time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			result.Error = fmt.Errorf("ping %s timed out after %s", host, s.timeout)
		} else {
			result.Error = fmt.Errorf("ping %s failed: %w", host, err)
		}
		s.logger.Debug().
			Err(result.Error).
			Str("host", host).
			Str("output", string(output)).
			Msg("ping probe failed")
		return result, nil
	}

	result.Reachable = true
	s.logger.Debug().
		Str("host", host).
		Dur("latency", result.Latency).
		Msg("ping probe succeeded")

	return result, nil
}

// TCP checks that a TCP connection to host:port can be established.
func (s *Impl) TCP(ctx context.Context, host string, port int) (*models.ProbeResult, error) {
	result := &models.ProbeResult{}
	if host == "" {
		return nil, fmt.Errorf("host is required")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %d", port)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))

	start := time.Now()
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	result.Latency = time.Since(start)

	if err != nil {
		result.Error = fmt.Errorf("connect %s failed: %w", addr, err)
		s.logger.Debug().Err(err).Str("addr", addr).Msg("tcp probe failed")
		return result, nil
	}
	_ = conn.Close()

	result.Reachable = true
	s.logger.Debug().
		Str("addr", addr).
		Dur("latency", result.Latency).
		Msg("tcp probe succeeded")

	return result, nil
}
