// Package monitor periodically probes active servers and publishes their
// reachability.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/cache"
	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/metrics"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/email"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Defaults used when the config leaves a value unset.
const (
	DefaultInterval    = time.Minute
	DefaultParallelism = 4
)

// Store is the persistence the monitor needs.
type Store interface {
	ListServers(ctx context.Context) ([]models.Server, error)
	AppendMonitorLog(ctx context.Context, entry models.MonitorLog) error
}

// Service defines the interface for the reachability monitor.
type Service interface {
	Start(ctx context.Context)
	Stop()
	CheckAll(ctx context.Context) error
	Check(ctx context.Context, srv models.Server) models.ServerHealth
}

// Impl implements the monitor Service interface.
type Impl struct {
	cfg    models.MonitorConfig
	store  Store
	prober probe.Service
	status cache.StatusCache
	alerts email.Service
	sink   events.Sink
	now    func() time.Time
	logger zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new monitor. alerts may be nil when email is not configured.
func New(
	logger zerolog.Logger,
	cfg models.MonitorConfig,
	store Store,
	prober probe.Service,
	status cache.StatusCache,
	alerts email.Service,
	sink events.Sink,
) *Impl {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Impl{
		cfg:    cfg,
		store:  store,
		prober: prober,
		status: status,
		alerts: alerts,
		sink:   sink,
		now:    time.Now,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Start runs a check immediately and then every configured interval until
// Stop is called or ctx is done.
func (m *Impl) Start(ctx context.Context) {
	if !m.cfg.Enabled {
		m.logger.Info().Msg("monitoring is disabled")
		return
	}

	m.logger.Info().
		Dur("interval", m.cfg.Interval).
		Int("parallelism", m.cfg.Parallelism).
		Msg("starting monitor")

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop ends the loop and waits for an in-progress cycle.
func (m *Impl) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Impl) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.cycle(ctx)

	for {
		select {
		case <-m.stopCh:
			m.logger.Info().Msg("monitor stopped")
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

func (m *Impl) cycle(ctx context.Context) {
	if err := m.CheckAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.logger.Error().Err(err).Msg("monitoring cycle failed")
	}
}

// CheckAll probes every active server once.
func (m *Impl) CheckAll(ctx context.Context) error {
	servers, err := m.store.ListServers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Parallelism)

	for _, srv := range servers {
		if !srv.IsActive {
			continue
		}
		g.Go(func() error {
			m.Check(gctx, srv)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// Check probes one server, records the sample and announces the result.
// A server counts as online when it answers ping and, if it has a service
// port, accepts a TCP connection on it.
func (m *Impl) Check(ctx context.Context, srv models.Server) models.ServerHealth {
	logger := m.logger.With().Str("server_id", srv.ID).Logger()
	start := m.now()

	var errs []error

	pingOK := false
	if res, err := m.prober.Ping(ctx, srv.Hostname); err != nil {
		errs = append(errs, err)
	} else {
		pingOK = res.Reachable
		metrics.ProbeDuration.WithLabelValues("ping").Observe(res.Latency.Seconds())
		if res.Error != nil {
			errs = append(errs, res.Error)
		}
	}

	tcpOK := true
	if srv.Port > 0 {
		tcpOK = false
		if res, err := m.prober.TCP(ctx, srv.ProbeAddress(), srv.Port); err != nil {
			errs = append(errs, err)
		} else {
			tcpOK = res.Reachable
			metrics.ProbeDuration.WithLabelValues("tcp").Observe(res.Latency.Seconds())
			if res.Error != nil {
				errs = append(errs, res.Error)
			}
		}
	}

	checkedAt := m.now().UTC()
	health := models.ServerHealth{
		ServerID:     srv.ID,
		Status:       models.ServerStatusOffline,
		PingStatus:   pingOK,
		TCPStatus:    tcpOK,
		ResponseTime: checkedAt.Sub(start),
		CheckedAt:    checkedAt,
	}
	if pingOK && tcpOK {
		health.Status = models.ServerStatusOnline
	}

	previous, known := m.status.Get(srv.ID)
	if known {
		health.LastPing = previous.LastPing
		health.LastTCP = previous.LastTCP
	}
	if pingOK {
		health.LastPing = &checkedAt
	}
	if srv.Port > 0 && tcpOK {
		health.LastTCP = &checkedAt
	}
	m.status.Set(health)

	up := 0.0
	if health.Status == models.ServerStatusOnline {
		up = 1
	}
	metrics.ServerUp.WithLabelValues(srv.ID).Set(up)

	entry := models.MonitorLog{
		ServerID:     srv.ID,
		PingStatus:   pingOK,
		TCPStatus:    tcpOK,
		ResponseTime: health.ResponseTime,
		CheckedAt:    checkedAt,
	}
	if len(errs) > 0 {
		entry.Error = errors.Join(errs...).Error()
	}
	if err := m.store.AppendMonitorLog(context.WithoutCancel(ctx), entry); err != nil {
		logger.Error().Err(err).Msg("failed to store monitor log")
	}

	m.sink.Publish(models.ServerStatusEvent(health))

	logger.Debug().
		Str("status", string(health.Status)).
		Bool("ping", pingOK).
		Bool("tcp", tcpOK).
		Dur("response_time", health.ResponseTime).
		Msg("server checked")

	if known && previous.Status == models.ServerStatusOnline && health.Status == models.ServerStatusOffline {
		m.alert(ctx, logger, srv)
	}

	return health
}

func (m *Impl) alert(ctx context.Context, logger zerolog.Logger, srv models.Server) {
	logger.Warn().Str("name", srv.Name).Msg("server went offline")

	if m.alerts == nil || len(m.cfg.AlertEmails) == 0 {
		return
	}
	if err := m.alerts.SendServerAlert(context.WithoutCancel(ctx), srv, "Server is offline", m.cfg.AlertEmails); err != nil {
		logger.Error().Err(err).Msg("failed to send offline alert")
	}
}
