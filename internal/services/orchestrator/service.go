// Package orchestrator drives the ordered restart sequence across a set of servers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/metrics"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/fgeck/gorestart-homelab/internal/services/ssh"
	"github.com/fgeck/gorestart-homelab/internal/services/wol"
	"github.com/rs/zerolog"
)

// DefaultCommand is run on servers without a script path when none is configured.
const DefaultCommand = "reboot"

// Service defines the interface for the restart orchestrator.
type Service interface {
	ExecuteRestart(ctx context.Context, servers []models.Server, run *models.RestartRun, sink events.Sink) error
}

// RunStore persists the outcome of a run.
type RunStore interface {
	FinishRun(ctx context.Context, id string, status models.RunStatus, details models.RunDetails, end time.Time) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Impl implements the orchestrator Service interface.
type Impl struct {
	prober   probe.Service
	executor ssh.Service
	waker    wol.Service
	runs     RunStore
	cfg      models.Config
	sleep    Sleeper
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a new orchestrator backed by the system prober, SSH and Wake-on-LAN.
func New(logger zerolog.Logger, cfg models.Config, runs RunStore) *Impl {
	prober := probe.New(logger, cfg.Probe.Timeout)
	return &Impl{
		prober:   prober,
		executor: ssh.New(logger, cfg.SSH),
		waker:    wol.New(logger, prober),
		runs:     runs,
		cfg:      cfg,
		sleep:    sleepContext,
		now:      time.Now,
		logger:   logger,
	}
}

// NewWithServices creates a new orchestrator with custom services (for testing).
// A nil sleeper waits on a real timer.
func NewWithServices(
	logger zerolog.Logger,
	cfg models.Config,
	runs RunStore,
	prober probe.Service,
	executor ssh.Service,
	waker wol.Service,
	sleeper Sleeper,
) *Impl {
	if sleeper == nil {
		sleeper = sleepContext
	}
	return &Impl{
		prober:   prober,
		executor: executor,
		waker:    waker,
		runs:     runs,
		cfg:      cfg,
		sleep:    sleeper,
		now:      time.Now,
		logger:   logger,
	}
}

// ExecuteRestart restarts servers one at a time in ascending restart order and
// records the outcome on run.
//
// A server that cannot be probed or restarted is recorded as an error and the
// sequence moves on. The run completes only if every server was restarted. The
// returned error is non-nil only when the outcome could not be persisted or the
// run was interrupted; the run is then marked failed with a fatal detail.
func (s *Impl) ExecuteRestart(ctx context.Context, servers []models.Server, run *models.RestartRun, sink events.Sink) (err error) {
	if run == nil {
		return errors.New("run is required")
	}
	if run.Status != models.RunStatusStarted {
		return fmt.Errorf("run %s is %s, expected %s", run.ID, run.Status, models.RunStatusStarted)
	}
	if sink == nil {
		sink = events.Discard
	}

	start := s.now()
	logger := s.logger.With().Str("run_id", run.ID).Logger()

	ordered := make([]models.Server, len(servers))
	copy(ordered, servers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].RestartOrder < ordered[j].RestartOrder
	})

	logger.Info().
		Int("servers", len(ordered)).
		Str("initiated_by", run.InitiatedBy).
		Bool("scheduled", run.IsScheduled).
		Msg("starting restart run")

	sink.Publish(models.RunStartedEvent(run.ID))

	details := models.RunDetails{
		Servers: []models.ServerSuccess{},
		Errors:  []models.ServerFailure{},
	}

	// Once the outcome is stored the run is over; a later panic must not
	// turn it into a failure.
	finalized := false
	defer func() {
		if r := recover(); r != nil {
			if finalized {
				logger.Error().Interface("panic", r).Msg("unexpected panic after run was recorded")
				err = nil
				return
			}
			err = s.fail(ctx, logger, run, details, start, fmt.Errorf("unexpected panic: %v", r), sink)
		}
	}()

	for _, srv := range ordered {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return s.fail(ctx, logger, run, details, start, fmt.Errorf("run interrupted: %w", ctxErr), sink)
		}

		success, failure := s.restartServer(ctx, logger, srv)
		if failure != nil {
			details.Errors = append(details.Errors, *failure)
			metrics.ServerOutcomesTotal.WithLabelValues(string(failure.Kind)).Inc()
			sink.Publish(models.ServerErrorEvent(run.ID, *failure))
			continue
		}

		details.Servers = append(details.Servers, *success)
		metrics.ServerOutcomesTotal.WithLabelValues("restarted").Inc()
		sink.Publish(models.ServerRestartedEvent(run.ID, srv))

		if delay := srv.SettleDelay(); delay > 0 {
			logger.Info().
				Str("server_id", srv.ID).
				Dur("delay", delay).
				Msg("waiting for server to settle")
			if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
				logger.Warn().Err(sleepErr).Str("server_id", srv.ID).Msg("settle delay interrupted")
			}
		}
	}

	status := models.RunStatusCompleted
	if len(details.Errors) > 0 {
		status = models.RunStatusFailed
	}

	end := s.now()
	if persistErr := s.runs.FinishRun(context.WithoutCancel(ctx), run.ID, status, details, end); persistErr != nil {
		return s.fail(ctx, logger, run, details, start, fmt.Errorf("failed to persist run result: %w", persistErr), sink)
	}
	finalized = true
	run.Finish(status, details, end)

	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	metrics.RunDuration.Observe(end.Sub(start).Seconds())

	logger.Info().
		Str("status", string(status)).
		Int("restarted", len(details.Servers)).
		Int("errors", len(details.Errors)).
		Dur("duration", end.Sub(start)).
		Msg("restart run finished")

	sink.Publish(models.RunTerminalEvent(run.ID, status, details))
	return nil
}

// restartServer probes and restarts a single server. Exactly one of the
// return values is non-nil.
func (s *Impl) restartServer(ctx context.Context, logger zerolog.Logger, srv models.Server) (success *models.ServerSuccess, failure *models.ServerFailure) {
	logger = logger.With().Str("server_id", srv.ID).Str("host", srv.Hostname).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("unexpected panic while restarting server")
			success = nil
			failure = newFailure(srv, models.ErrorKindUnexpected, fmt.Sprintf("unexpected panic: %v", r))
		}
	}()

	if reason := s.ensureReachable(ctx, logger, srv); reason != "" {
		logger.Warn().Str("reason", reason).Msg("server is not reachable, skipping")
		return nil, newFailure(srv, models.ErrorKindUnreachable, reason)
	}

	command := srv.ScriptPath
	if command == "" {
		command = s.cfg.SSH.DefaultCommand
	}
	if command == "" {
		command = DefaultCommand
	}

	result, err := s.executor.Execute(ctx, models.SSHTarget{Host: srv.Hostname, Port: srv.SSHPort}, command)
	if err != nil {
		return nil, newFailure(srv, models.ErrorKindCommandFailed, err.Error())
	}
	if result.Error != nil {
		msg := result.Error.Error()
		if result.ExitCode != nil {
			msg = fmt.Sprintf("exit code %d: %s", *result.ExitCode, msg)
		}
		logger.Warn().Str("output", result.Output).Msg("restart command failed")
		return nil, newFailure(srv, models.ErrorKindCommandFailed, msg)
	}

	logger.Info().Str("command", command).Msg("server restarted")

	return &models.ServerSuccess{
		ServerID:  srv.ID,
		Name:      srv.Name,
		Hostname:  srv.Hostname,
		Timestamp: s.now().UTC(),
	}, nil
}

// ensureReachable pings srv and, when enabled, tries to wake it. It returns
// an empty string if the server answers, otherwise the reason it does not.
func (s *Impl) ensureReachable(ctx context.Context, logger zerolog.Logger, srv models.Server) string {
	timer := time.Now()
	res, err := s.prober.Ping(ctx, srv.Hostname)
	metrics.ProbeDuration.WithLabelValues("ping").Observe(time.Since(timer).Seconds())

	reason := "Server is not reachable"
	switch {
	case err != nil:
		reason = fmt.Sprintf("%s: %v", reason, err)
	case res.Reachable:
		return ""
	case res.Error != nil:
		reason = fmt.Sprintf("%s: %v", reason, res.Error)
	}

	if !s.cfg.Orchestrator.WakeUnreachable || srv.MACAddress == "" || s.waker == nil {
		return reason
	}

	logger.Info().Str("mac", srv.MACAddress).Msg("server unreachable, sending Wake-on-LAN packet")

	wake, err := s.waker.Wake(ctx, models.WakeRequest{
		MACAddress:   srv.MACAddress,
		BroadcastIP:  s.cfg.WOL.BroadcastIP,
		Host:         srv.Hostname,
		WaitTimeout:  s.cfg.WOL.WaitTimeout,
		PollInterval: s.cfg.WOL.PollInterval,
	})
	if err != nil {
		return fmt.Sprintf("%s; wake failed: %v", reason, err)
	}
	if wake.Error != nil || !wake.TargetReady {
		if wake.Error != nil {
			return fmt.Sprintf("%s; wake failed: %v", reason, wake.Error)
		}
		return reason + "; host did not wake up"
	}

	logger.Info().Dur("wait", wake.WaitDuration).Msg("server woke up")
	return ""
}

// fail handles the fatal path: the run is marked failed with the error as
// fatal detail, persisted once more and announced. err is returned.
func (s *Impl) fail(
	ctx context.Context,
	logger zerolog.Logger,
	run *models.RestartRun,
	details models.RunDetails,
	start time.Time,
	err error,
	sink events.Sink,
) error {
	details.Fatal = err.Error()
	end := s.now()

	logger.Error().Err(err).Msg("restart run aborted")

	if persistErr := s.runs.FinishRun(context.WithoutCancel(ctx), run.ID, models.RunStatusFailed, details, end); persistErr != nil {
		logger.Error().Err(persistErr).Msg("failed to persist failed run")
	}
	run.Finish(models.RunStatusFailed, details, end)

	metrics.RunsTotal.WithLabelValues(string(models.RunStatusFailed)).Inc()
	metrics.ServerOutcomesTotal.WithLabelValues(string(models.ErrorKindRunFatal)).Inc()
	metrics.RunDuration.Observe(end.Sub(start).Seconds())

	sink.Publish(models.RunTerminalEvent(run.ID, models.RunStatusFailed, details))
	return err
}

func newFailure(srv models.Server, kind models.ErrorKind, msg string) *models.ServerFailure {
	return &models.ServerFailure{
		ServerID: srv.ID,
		Name:     srv.Name,
		Kind:     kind,
		Error:    msg,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
