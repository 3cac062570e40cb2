package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/fgeck/gorestart-homelab/internal/services/ssh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var probeSSH bool

var probeCmd = &cobra.Command{
	Use:   "probe [server-id...]",
	Short: "Check reachability of servers without restarting them",
	Long: `Ping every given server (or all configured servers), check its service
port over TCP and, with --ssh, open an SSH session. Nothing is restarted and
the store is not touched.`,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeSSH, "ssh", false, "also test the SSH connection")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers, err := selectServers(cfg.Servers, args)
	if err != nil {
		return err
	}

	prober := probe.New(log.Logger, cfg.Probe.Timeout)
	executor := ssh.New(log.Logger, cfg.SSH)

	failed := 0
	for _, srv := range servers {
		ok := true

		ping, err := prober.Ping(ctx, srv.Hostname)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s)\n", srv.Name, srv.ID)
		fmt.Printf("  Ping %s: %s\n", srv.Hostname, describe(ping))
		ok = ok && ping.Reachable

		if srv.Port > 0 {
			tcp, err := prober.TCP(ctx, srv.ProbeAddress(), srv.Port)
			if err != nil {
				return err
			}
			fmt.Printf("  TCP %s:%d: %s\n", srv.ProbeAddress(), srv.Port, describe(tcp))
			ok = ok && tcp.Reachable
		}

		if probeSSH {
			target := models.SSHTarget{Host: srv.Hostname, Port: srv.SSHPort}
			res, err := executor.TestConnection(ctx, target)
			if err != nil {
				return err
			}
			if res.Error != nil {
				fmt.Printf("  SSH %s:%d: failed (%v)\n", srv.Hostname, srv.SSHPort, res.Error)
				ok = false
			} else {
				fmt.Printf("  SSH %s:%d: ok\n", srv.Hostname, srv.SSHPort)
			}
		}

		if !ok {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d server(s) unreachable", failed, len(servers))
	}
	return nil
}

// selectServers returns the servers named by ids in the given order, or all
// of them when ids is empty.
func selectServers(all []models.Server, ids []string) ([]models.Server, error) {
	if len(ids) == 0 {
		return all, nil
	}

	byID := make(map[string]models.Server, len(all))
	for _, srv := range all {
		byID[srv.ID] = srv
	}

	out := make([]models.Server, 0, len(ids))
	for _, id := range ids {
		srv, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown server %q", id)
		}
		out = append(out, srv)
	}
	return out, nil
}

func describe(res *models.ProbeResult) string {
	if res.Reachable {
		return fmt.Sprintf("ok (%s)", res.Latency.Round(time.Millisecond))
	}
	return fmt.Sprintf("failed (%v)", res.Error)
}
