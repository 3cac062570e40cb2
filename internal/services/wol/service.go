// Package wol provides Wake-on-LAN operations.
package wol

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, req models.WakeRequest) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface.
type Impl struct {
	wolClient Client
	prober    probe.Service
	logger    zerolog.Logger
}

// New creates a new WOL service that uses prober to detect when a host is up.
func New(logger zerolog.Logger, prober probe.Service) *Impl {
	return &Impl{
		wolClient: &DefaultClient{},
		prober:    prober,
		logger:    logger,
	}
}

// NewWithClient creates a new WOL service with a custom packet client (for testing).
func NewWithClient(logger zerolog.Logger, wolClient Client, prober probe.Service) *Impl {
	return &Impl{
		wolClient: wolClient,
		prober:    prober,
		logger:    logger,
	}
}

// Wake sends a WOL packet and, if req.Host is set, waits for it to answer pings.
func (s *Impl) Wake(ctx context.Context, req models.WakeRequest) (*models.WOLResult, error) {
	result := &models.WOLResult{}
	start := time.Now()

	mac, err := net.ParseMAC(req.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", req.MACAddress, err)
		return result, nil
	}

	s.logger.Info().
		Str("mac", req.MACAddress).
		Str("broadcast", req.BroadcastIP).
		Msg("sending WOL packet")

	if err := s.wolClient.Wake(req.BroadcastIP, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is returned in the result
	}

	result.PacketSent = true

	if req.Host == "" {
		result.WaitDuration = time.Since(start)
		result.TargetReady = true
		return result, nil
	}

	s.logger.Info().
		Str("host", req.Host).
		Dur("timeout", req.WaitTimeout).
		Msg("waiting for host to answer pings")

	if err := s.waitForHost(ctx, req); err != nil {
		result.WaitDuration = time.Since(start)
		result.Error = err
		return result, nil //nolint:nilerr // error is returned in the result
	}

	result.TargetReady = true
	result.WaitDuration = time.Since(start)

	s.logger.Info().
		Str("host", req.Host).
		Dur("duration", result.WaitDuration).
		Msg("host is awake")

	return result, nil
}

func (s *Impl) waitForHost(ctx context.Context, req models.WakeRequest) error {
	deadline := time.Now().Add(req.WaitTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s to wake up", req.Host)
		}

		res, err := s.prober.Ping(ctx, req.Host)
		if err != nil {
			return fmt.Errorf("probing %s: %w", req.Host, err)
		}
		if res.Reachable {
			return nil
		}

		s.logger.Debug().Err(res.Error).Str("host", req.Host).Msg("host not awake yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(req.PollInterval):
		}
	}
}
