// Package models contains the data structures used throughout gorestart.
package models

import "time"

// Server is an inventoried application server.
type Server struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Hostname     string `json:"hostname"`
	IPAddress    string `json:"ipAddress"`
	Port         int    `json:"port"`
	SSHPort      int    `json:"sshPort"`
	Description  string `json:"description,omitempty"`
	Group        string `json:"group"`
	RestartOrder int    `json:"restartOrder"`
	RestartDelay int    `json:"restartDelay"` // seconds
	ScriptPath   string `json:"scriptPath,omitempty"`
	MACAddress   string `json:"macAddress,omitempty"` // enables wake-before-restart
	IsActive     bool   `json:"isActive"`
}

// ProbeAddress returns the address used for service-level probes.
// The IP address wins over the hostname when both are set.
func (s Server) ProbeAddress() string {
	if s.IPAddress != "" {
		return s.IPAddress
	}
	return s.Hostname
}

// SettleDelay returns the post-restart delay as a duration.
func (s Server) SettleDelay() time.Duration {
	if s.RestartDelay <= 0 {
		return 0
	}
	return time.Duration(s.RestartDelay) * time.Second
}

// ServerStatus is the last observed reachability of a server.
type ServerStatus string

// Server status values.
const (
	ServerStatusOnline  ServerStatus = "online"
	ServerStatusOffline ServerStatus = "offline"
	ServerStatusUnknown ServerStatus = "unknown"
)

// ServerHealth is the cached monitoring view of a server.
type ServerHealth struct {
	ServerID     string        `json:"serverId"`
	Status       ServerStatus  `json:"status"`
	PingStatus   bool          `json:"pingStatus"`
	TCPStatus    bool          `json:"tcpStatus"`
	ResponseTime time.Duration `json:"responseTime"`
	LastPing     *time.Time    `json:"lastPing,omitempty"`
	LastTCP      *time.Time    `json:"lastTcp,omitempty"`
	CheckedAt    time.Time     `json:"checkedAt"`
}

// MonitorLog is a persisted monitoring sample.
type MonitorLog struct {
	ServerID     string        `json:"serverId"`
	PingStatus   bool          `json:"pingStatus"`
	TCPStatus    bool          `json:"tcpStatus"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
	CheckedAt    time.Time     `json:"checkedAt"`
}
