package models

import "time"

// ProbeResult holds the result of a reachability probe.
type ProbeResult struct {
	Reachable bool
	Latency   time.Duration
	Error     error
}

// SSHTarget identifies the remote end of a command.
type SSHTarget struct {
	Host string
	Port int
}

// CommandResult holds the result of a remote command.
type CommandResult struct {
	CommandRun bool
	ExitCode   *int // nil when the connection dropped before an exit status arrived
	Output     string
	Error      error
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// NotificationResult holds the result of a notification delivery.
type NotificationResult struct {
	MessageSent bool
	Error       error
}

// TaskNotification is the data for a scheduled task chat notification.
type TaskNotification struct {
	TaskName      string
	ScheduledTime time.Time
	ServerCount   int
	Status        TaskStatus
	RunID         string
	Details       *RunDetails
	ErrorMessage  string
}

// WakeRequest describes a Wake-on-LAN attempt for one host.
type WakeRequest struct {
	MACAddress   string
	BroadcastIP  string
	Host         string        // host to ping until it answers; empty skips waiting
	WaitTimeout  time.Duration // max time to wait for Host
	PollInterval time.Duration // how often to ping Host
}
