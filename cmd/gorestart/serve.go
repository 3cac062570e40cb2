package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/api"
	"github.com/fgeck/gorestart-homelab/internal/cache"
	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/email"
	"github.com/fgeck/gorestart-homelab/internal/services/monitor"
	"github.com/fgeck/gorestart-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/fgeck/gorestart-homelab/internal/services/scheduler"
	"github.com/fgeck/gorestart-homelab/internal/services/sms"
	"github.com/fgeck/gorestart-homelab/internal/services/telegram"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const schedulerShutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, scheduler and monitor",
	Long: `Run the long-lived console process:
1. Open the store and sync the server inventory from the config file
2. Re-arm pending scheduled tasks (tasks that came due while down are marked failed)
3. Start reachability monitoring (if enabled)
4. Serve the HTTP API, the websocket event stream and /metrics

SIGINT or SIGTERM stops accepting requests, disarms schedules and waits for
running restarts to finish.`,
	RunE: serve,
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.Storage.Path).Msg("failed to open store")
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	if err := store.SyncServers(ctx, cfg.Servers); err != nil {
		log.Error().Err(err).Msg("failed to sync server inventory")
		return err
	}

	log.Info().
		Str("config", configFile).
		Str("store", cfg.Storage.Path).
		Int("servers", len(cfg.Servers)).
		Msg("configuration loaded")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// Background producers also log their events; API runs are watched live.
	audit := events.Multi{broker, events.NewLogSink(log.Logger.With().Str("component", "events").Logger())}

	var mailer email.Service
	if cfg.Email != nil {
		mailer = email.New(log.Logger, *cfg.Email)
	}

	orch := orchestrator.New(log.Logger, *cfg, store)
	sched := scheduler.New(log.Logger, store, orch, buildNotifiers(cfg, mailer))

	armed, err := sched.Initialize(ctx, audit)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize scheduler")
		return err
	}
	log.Info().Int("armed", armed).Msg("scheduled tasks loaded")

	// Entries outlive a few missed cycles before reading as unknown.
	statusCache := cache.New(3 * cfg.Monitor.Interval)
	mon := monitor.New(
		log.Logger,
		cfg.Monitor,
		store,
		probe.New(log.Logger, cfg.Probe.Timeout),
		statusCache,
		mailer,
		audit,
	)
	mon.Start(ctx)

	handler := api.NewHandler(ctx, log.Logger, store, orch, sched, statusCache, broker)
	server := api.NewServer(cfg.HTTP, handler.Router(), log.Logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		mon.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), schedulerShutdownTimeout)
		defer cancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("scheduled tasks still running at shutdown")
		}

		log.Info().Msg("waiting for running restarts to finish")
		handler.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server failed")
		return err
	}

	log.Info().Msg("gorestart stopped")
	return nil
}

// buildNotifiers wires the configured notification channels. Unconfigured
// channels stay nil so the scheduler skips them.
func buildNotifiers(cfg *models.Config, mailer email.Service) scheduler.Notifiers {
	n := scheduler.Notifiers{Email: mailer}
	if cfg.SMS != nil {
		n.SMS = sms.New(log.Logger, *cfg.SMS)
	}
	if cfg.Telegram != nil {
		n.Telegram = telegram.New(log.Logger)
		n.TelegramConfig = cfg.Telegram
	}
	return n
}
