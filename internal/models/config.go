package models

import "time"

// Config holds the complete configuration of a gorestart process.
type Config struct {
	HTTP         HTTPConfig
	Storage      StorageConfig
	SSH          SSHConfig
	Probe        ProbeConfig
	Orchestrator OrchestratorConfig
	Monitor      MonitorConfig
	WOL          WOLConfig
	Email        *EmailConfig    // nil if not configured
	SMS          *SMSConfig      // nil if not configured
	Telegram     *TelegramConfig // nil if not configured
	Servers      []Server
}

// HTTPConfig holds API listener settings.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// StorageConfig holds the entity store location.
type StorageConfig struct {
	Path string
}

// SSHConfig holds remote command settings shared by all servers.
type SSHConfig struct {
	Username       string
	KeyPath        string
	PrivateKey     []byte // loaded from KeyPath if empty
	KnownHostsPath string // empty disables host key verification
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	DefaultCommand string
}

// ProbeConfig holds reachability probe settings.
type ProbeConfig struct {
	Timeout time.Duration
}

// OrchestratorConfig holds restart run settings.
type OrchestratorConfig struct {
	WakeUnreachable bool // send a magic packet to unreachable servers with a MAC address
}

// MonitorConfig holds periodic reachability polling settings.
type MonitorConfig struct {
	Enabled     bool
	Interval    time.Duration
	Parallelism int
	AlertEmails []string
}

// WOLConfig holds Wake-on-LAN settings.
type WOLConfig struct {
	BroadcastIP  string
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMSConfig holds SMS gateway settings.
type SMSConfig struct {
	APIURL string
	Source string
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}
