package models

import "time"

// EventKind identifies the variant of an Event.
type EventKind string

// Event kinds.
const (
	EventRunStarted      EventKind = "run.started"
	EventServerRestarted EventKind = "server.restarted"
	EventServerError     EventKind = "server.error"
	EventRunCompleted    EventKind = "run.completed"
	EventRunFailed       EventKind = "run.failed"
	EventServerStatus    EventKind = "server.status"
	EventTaskStatus      EventKind = "task.status"
)

// Event is a progress notification pushed to live observers. Only the fields
// relevant to Kind are set; use the constructors below.
type Event struct {
	Kind      EventKind     `json:"kind"`
	RunID     string        `json:"runId,omitempty"`
	ServerID  string        `json:"serverId,omitempty"`
	TaskID    string        `json:"taskId,omitempty"`
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	Details   *RunDetails   `json:"details,omitempty"`
	Health    *ServerHealth `json:"health,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// RunStartedEvent announces the start of a run.
func RunStartedEvent(runID string) Event {
	return Event{
		Kind:    EventRunStarted,
		RunID:   runID,
		Status:  string(RunStatusStarted),
		Message: "Restart process initiated",
	}
}

// ServerRestartedEvent announces a successful restart of one server.
func ServerRestartedEvent(runID string, srv Server) Event {
	return Event{
		Kind:     EventServerRestarted,
		RunID:    runID,
		ServerID: srv.ID,
		Status:   "restarted",
		Message:  "Server " + srv.Name + " restarted successfully",
	}
}

// ServerErrorEvent announces a failed restart of one server.
func ServerErrorEvent(runID string, f ServerFailure) Event {
	return Event{
		Kind:     EventServerError,
		RunID:    runID,
		ServerID: f.ServerID,
		Status:   "error",
		Message:  "Failed to restart " + f.Name + ": " + f.Error,
	}
}

// RunTerminalEvent announces the final status of a run.
func RunTerminalEvent(runID string, status RunStatus, details RunDetails) Event {
	kind := EventRunCompleted
	if status == RunStatusFailed {
		kind = EventRunFailed
	}
	msg := "Restart process " + string(status)
	if details.Fatal != "" {
		msg = "Restart process failed: " + details.Fatal
	}
	return Event{
		Kind:    kind,
		RunID:   runID,
		Status:  string(status),
		Message: msg,
		Details: &details,
	}
}

// ServerStatusEvent carries a monitoring sample.
func ServerStatusEvent(h ServerHealth) Event {
	return Event{
		Kind:     EventServerStatus,
		ServerID: h.ServerID,
		Status:   string(h.Status),
		Message:  "Server is " + string(h.Status),
		Health:   &h,
	}
}

// TaskStatusEvent announces a scheduled task transition.
func TaskStatusEvent(task ScheduledTask, message string) Event {
	return Event{
		Kind:    EventTaskStatus,
		TaskID:  task.ID,
		RunID:   task.LastRunID,
		Status:  string(task.Status),
		Message: message,
	}
}
