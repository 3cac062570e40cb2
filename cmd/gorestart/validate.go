package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/scheduler"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [cron-expression]",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without contacting any server.
If a cron expression is given it is checked as well and its next occurrence
is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := scheduler.ValidateCron(args[0]); err != nil {
			log.Error().Err(err).Msg("cron expression validation failed")
			return err
		}
	}

	printSummary(cfg)

	if len(args) == 1 {
		next, _ := scheduler.NextOccurrence(args[0], time.Now())
		fmt.Println()
		fmt.Println("Cron Expression:")
		fmt.Printf("  Expression: %s\n", args[0])
		fmt.Printf("  Next run: %s\n", next.Format("2006-01-02 15:04 MST"))
	}

	return nil
}

func printSummary(cfg *models.Config) {
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  HTTP address: %s\n", cfg.HTTP.Addr)
	fmt.Printf("  Store: %s\n", cfg.Storage.Path)
	fmt.Printf("  SSH user: %s\n", cfg.SSH.Username)
	fmt.Printf("  Default command: %s\n", cfg.SSH.DefaultCommand)
	fmt.Printf("  Probe timeout: %s\n", cfg.Probe.Timeout)
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Monitoring: %v\n", cfg.Monitor.Enabled)
	fmt.Printf("  Wake unreachable servers: %v\n", cfg.Orchestrator.WakeUnreachable)
	fmt.Printf("  Email: %v\n", cfg.Email != nil)
	fmt.Printf("  SMS: %v\n", cfg.SMS != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)

	if cfg.Monitor.Enabled {
		fmt.Println()
		fmt.Println("Monitor Configuration:")
		fmt.Printf("  Interval: %s\n", cfg.Monitor.Interval)
		fmt.Printf("  Parallelism: %d\n", cfg.Monitor.Parallelism)
		fmt.Printf("  Alert emails: %v\n", cfg.Monitor.AlertEmails)
	}

	if cfg.Email != nil {
		fmt.Println()
		fmt.Println("Email Configuration:")
		fmt.Printf("  Host: %s:%d\n", cfg.Email.Host, cfg.Email.Port)
		fmt.Printf("  From: %s\n", cfg.Email.From)
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	fmt.Println()
	fmt.Printf("Servers (%d):\n", len(cfg.Servers))
	for _, srv := range cfg.Servers {
		state := "active"
		if !srv.IsActive {
			state = "inactive"
		}
		command := srv.ScriptPath
		if command == "" {
			command = cfg.SSH.DefaultCommand
		}
		fmt.Printf("  [%d] %s (%s) %s, delay %ds, command %q, %s\n",
			srv.RestartOrder, srv.Name, srv.ID, srv.Hostname, srv.RestartDelay, command, state)
	}
}
