// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// serverEntry mirrors an inventory item as written in YAML. Pointers mark
// fields whose zero value differs from the default.
type serverEntry struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Hostname     string `mapstructure:"hostname"`
	IPAddress    string `mapstructure:"ip_address"`
	Port         int    `mapstructure:"port"`
	SSHPort      int    `mapstructure:"ssh_port"`
	Description  string `mapstructure:"description"`
	Group        string `mapstructure:"group"`
	RestartOrder int    `mapstructure:"restart_order"`
	RestartDelay int    `mapstructure:"restart_delay"`
	ScriptPath   string `mapstructure:"script_path"`
	MACAddress   string `mapstructure:"mac_address"`
	IsActive     *bool  `mapstructure:"is_active"`
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	cfg.HTTP = models.HTTPConfig{
		Addr:         p.v.GetString("http.addr"),
		ReadTimeout:  p.v.GetDuration("http.read_timeout"),
		WriteTimeout: p.v.GetDuration("http.write_timeout"),
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}

	cfg.Storage = models.StorageConfig{
		Path: p.expandEnv(p.v.GetString("storage.path")),
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "gorestart.db"
	}

	// Parse SSH settings.
	cfg.SSH = models.SSHConfig{
		Username:       p.v.GetString("ssh.username"),
		KeyPath:        p.expandEnv(p.v.GetString("ssh.key_path")),
		KnownHostsPath: p.expandEnv(p.v.GetString("ssh.known_hosts")),
		ConnectTimeout: p.v.GetDuration("ssh.connect_timeout"),
		CommandTimeout: p.v.GetDuration("ssh.command_timeout"),
		DefaultCommand: p.v.GetString("ssh.default_command"),
	}
	if cfg.SSH.Username == "" {
		cfg.SSH.Username = "root"
	}
	if cfg.SSH.ConnectTimeout == 0 {
		cfg.SSH.ConnectTimeout = 10 * time.Second
	}
	if cfg.SSH.CommandTimeout == 0 {
		cfg.SSH.CommandTimeout = 2 * time.Minute
	}
	if cfg.SSH.DefaultCommand == "" {
		cfg.SSH.DefaultCommand = "reboot"
	}

	cfg.Probe = models.ProbeConfig{
		Timeout: p.v.GetDuration("probe.timeout"),
	}
	if cfg.Probe.Timeout == 0 {
		cfg.Probe.Timeout = 5 * time.Second
	}

	cfg.Orchestrator = models.OrchestratorConfig{
		WakeUnreachable: p.v.GetBool("orchestrator.wake_unreachable"),
	}

	// Parse monitor settings. Monitoring is on unless explicitly disabled.
	cfg.Monitor = models.MonitorConfig{
		Enabled:     true,
		Interval:    p.v.GetDuration("monitor.interval"),
		Parallelism: p.v.GetInt("monitor.parallelism"),
		AlertEmails: p.v.GetStringSlice("monitor.alert_emails"),
	}
	if p.v.IsSet("monitor.enabled") {
		cfg.Monitor.Enabled = p.v.GetBool("monitor.enabled")
	}
	if cfg.Monitor.Interval == 0 {
		cfg.Monitor.Interval = time.Minute
	}
	if cfg.Monitor.Parallelism <= 0 {
		cfg.Monitor.Parallelism = 4
	}

	cfg.WOL = models.WOLConfig{
		BroadcastIP:  p.v.GetString("wol.broadcast_ip"),
		WaitTimeout:  p.v.GetDuration("wol.wait_timeout"),
		PollInterval: p.v.GetDuration("wol.poll_interval"),
	}
	if cfg.WOL.BroadcastIP == "" {
		cfg.WOL.BroadcastIP = "255.255.255.255"
	}
	if cfg.WOL.WaitTimeout == 0 {
		cfg.WOL.WaitTimeout = 5 * time.Minute
	}
	if cfg.WOL.PollInterval == 0 {
		cfg.WOL.PollInterval = 10 * time.Second
	}

	// Parse optional email config.
	if p.v.IsSet("email") {
		cfg.Email = &models.EmailConfig{
			Host:     p.v.GetString("email.host"),
			Port:     p.v.GetInt("email.port"),
			Username: p.expandEnv(p.v.GetString("email.username")),
			Password: p.expandEnv(p.v.GetString("email.password")),
			From:     p.expandEnv(p.v.GetString("email.from")),
		}

		if cfg.Email.Host == "" {
			return nil, fmt.Errorf("email.host is required when email is configured")
		}
		if cfg.Email.Port == 0 {
			cfg.Email.Port = 587
		}
		if cfg.Email.From == "" {
			cfg.Email.From = cfg.Email.Username
		}
		if cfg.Email.From == "" {
			return nil, fmt.Errorf("email.from is required when email is configured")
		}
	}

	// Parse optional SMS config.
	if p.v.IsSet("sms") {
		cfg.SMS = &models.SMSConfig{
			APIURL: p.expandEnv(p.v.GetString("sms.api_url")),
			Source: p.v.GetString("sms.source"),
		}

		if cfg.SMS.APIURL == "" {
			return nil, fmt.Errorf("sms.api_url is required when sms is configured")
		}
		if cfg.SMS.Source == "" {
			cfg.SMS.Source = "GORESTART"
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}

		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	// Parse server inventory.
	var entries []serverEntry
	if err := p.v.UnmarshalKey("servers", &entries); err != nil {
		return nil, fmt.Errorf("parsing servers: %w", err)
	}

	for i, e := range entries {
		srv := models.Server{
			ID:           e.ID,
			Name:         e.Name,
			Hostname:     e.Hostname,
			IPAddress:    e.IPAddress,
			Port:         e.Port,
			SSHPort:      e.SSHPort,
			Description:  e.Description,
			Group:        e.Group,
			RestartOrder: e.RestartOrder,
			RestartDelay: e.RestartDelay,
			ScriptPath:   e.ScriptPath,
			MACAddress:   e.MACAddress,
			IsActive:     true,
		}
		if e.IsActive != nil {
			srv.IsActive = *e.IsActive
		}

		if srv.ID == "" {
			return nil, fmt.Errorf("servers[%d].id is required", i)
		}
		if srv.Hostname == "" {
			return nil, fmt.Errorf("servers[%d].hostname is required", i)
		}
		if srv.Name == "" {
			srv.Name = srv.Hostname
		}
		if srv.SSHPort == 0 {
			srv.SSHPort = 22
		}
		if srv.Group == "" {
			srv.Group = "default"
		}

		cfg.Servers = append(cfg.Servers, srv)
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if len(cfg.Servers) == 0 {
		return fmt.Errorf("servers: at least one server is required")
	}

	seen := make(map[string]bool, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		if seen[srv.ID] {
			return fmt.Errorf("servers: duplicate id %q", srv.ID)
		}
		seen[srv.ID] = true

		if srv.RestartDelay < 0 {
			return fmt.Errorf("server %s: restart_delay must not be negative", srv.ID)
		}
		if srv.Port < 0 || srv.Port > 65535 {
			return fmt.Errorf("server %s: port %d out of range", srv.ID, srv.Port)
		}
		if srv.SSHPort <= 0 || srv.SSHPort > 65535 {
			return fmt.Errorf("server %s: ssh_port %d out of range", srv.ID, srv.SSHPort)
		}
		if srv.MACAddress != "" {
			if _, err := net.ParseMAC(srv.MACAddress); err != nil {
				return fmt.Errorf("server %s: invalid mac_address: %w", srv.ID, err)
			}
		}
	}

	if cfg.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval %s must not be negative", cfg.Monitor.Interval)
	}

	if cfg.SSH.KeyPath == "" && len(cfg.SSH.PrivateKey) == 0 {
		return fmt.Errorf("ssh.key_path is required")
	}

	if cfg.Orchestrator.WakeUnreachable && net.ParseIP(cfg.WOL.BroadcastIP) == nil {
		return fmt.Errorf("wol.broadcast_ip %q is not a valid IP", cfg.WOL.BroadcastIP)
	}

	return nil
}
