package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	bolterrors "go.etcd.io/bbolt/errors"
)

var (
	restartAll         bool
	restartInitiatedBy string
)

var restartCmd = &cobra.Command{
	Use:   "restart [server-id...]",
	Short: "Restart servers once and exit",
	Long: `Restart the given servers (or every active server with --all) in
restart order and record the run in the store:
1. Ping each server (wake it first if configured and a MAC address is set)
2. Run the server's script or the default command over SSH
3. Wait the server's restart delay before the next one

A failing server does not stop the run. The command exits non-zero when any
server failed. The store is locked while "gorestart serve" runs; use the
HTTP API in that case.`,
	RunE: runRestart,
}

func init() {
	restartCmd.Flags().BoolVar(&restartAll, "all", false, "restart every active server")
	restartCmd.Flags().StringVar(&restartInitiatedBy, "initiated-by", "cli", "name recorded as the run's initiator")
}

func runRestart(cmd *cobra.Command, args []string) error {
	if !restartAll && len(args) == 0 {
		return fmt.Errorf("name at least one server id or pass --all")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		if errors.Is(err, bolterrors.ErrTimeout) {
			err = fmt.Errorf("%w: store %s is in use, is \"gorestart serve\" running?", err, cfg.Storage.Path)
		}
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SyncServers(ctx, cfg.Servers); err != nil {
		log.Error().Err(err).Msg("failed to sync server inventory")
		return err
	}

	ids := args
	if restartAll {
		ids = make([]string, 0, len(cfg.Servers))
		for _, srv := range cfg.Servers {
			ids = append(ids, srv.ID)
		}
	}

	servers, err := store.ListActiveServers(ctx, ids)
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		log.Error().Strs("server_ids", ids).Msg("no active servers found")
		return fmt.Errorf("no active servers found")
	}

	runIDs := make([]string, len(servers))
	for i, srv := range servers {
		runIDs[i] = srv.ID
	}

	run := &models.RestartRun{
		ID:          uuid.NewString(),
		InitiatedBy: restartInitiatedBy,
		ServerIDs:   runIDs,
		Status:      models.RunStatusStarted,
		StartTime:   time.Now().UTC(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		log.Error().Err(err).Msg("failed to create run")
		return err
	}

	orch := orchestrator.New(log.Logger, *cfg, store)
	if err := orch.ExecuteRestart(ctx, servers, run, events.NewLogSink(log.Logger)); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("restart run failed")
		return err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("restarted", len(run.Details.Servers)).
		Int("errors", len(run.Details.Errors)).
		Msg("restart run finished")

	if run.Status == models.RunStatusFailed {
		return fmt.Errorf("%d of %d server(s) failed", len(run.Details.Errors), len(servers))
	}
	return nil
}
