package models

import "time"

// RunStatus is the lifecycle state of a restart run.
type RunStatus string

// Restart run states.
const (
	RunStatusStarted   RunStatus = "started"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ErrorKind classifies a failure.
type ErrorKind string

// Failure classes.
const (
	ErrorKindUnreachable       ErrorKind = "unreachable"
	ErrorKindCommandFailed     ErrorKind = "command-failed"
	ErrorKindNoEligibleServers ErrorKind = "no-eligible-servers"
	ErrorKindPastDue           ErrorKind = "past-due"
	ErrorKindRunFatal          ErrorKind = "run-fatal"
	ErrorKindUnexpected        ErrorKind = "unexpected"
)

// ServerSuccess records a server that was restarted.
type ServerSuccess struct {
	ServerID  string    `json:"id"`
	Name      string    `json:"name"`
	Hostname  string    `json:"hostname"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerFailure records a server that could not be restarted.
type ServerFailure struct {
	ServerID string    `json:"serverId"`
	Name     string    `json:"serverName"`
	Kind     ErrorKind `json:"kind"`
	Error    string    `json:"error"`
}

// RunDetails aggregates the per-server outcomes of a run.
type RunDetails struct {
	Servers []ServerSuccess `json:"servers"`
	Errors  []ServerFailure `json:"errors"`
	Fatal   string          `json:"fatal,omitempty"`
}

// RestartRun tracks one execution of the restart sequence.
type RestartRun struct {
	ID          string     `json:"id"`
	InitiatedBy string     `json:"initiatedBy"`
	ServerIDs   []string   `json:"serverIds"`
	Status      RunStatus  `json:"status"`
	Details     RunDetails `json:"details"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	IsScheduled bool       `json:"isScheduled"`
	TaskID      string     `json:"taskId,omitempty"`
}

// Finish moves the run to a terminal state. It returns false and leaves the
// run untouched if the run is already terminal.
func (r *RestartRun) Finish(status RunStatus, details RunDetails, end time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	r.Status = status
	r.Details = details
	r.EndTime = &end
	return true
}
