// Package storage persists servers, restart runs, scheduled tasks and
// monitoring samples.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunFinalized is returned when finishing a run that already ended.
	ErrRunFinalized = errors.New("run already finalized")
	// ErrTaskFinalized is returned when updating a task that is no longer pending.
	ErrTaskFinalized = errors.New("task already finalized")
)

// ServerStore holds the server inventory.
type ServerStore interface {
	SyncServers(ctx context.Context, servers []models.Server) error
	ListServers(ctx context.Context) ([]models.Server, error)
	GetServer(ctx context.Context, id string) (*models.Server, error)
	ListActiveServers(ctx context.Context, ids []string) ([]models.Server, error)
}

// RunStore holds restart runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.RestartRun) error
	GetRun(ctx context.Context, id string) (*models.RestartRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.RestartRun, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, details models.RunDetails, end time.Time) error
}

// TaskStore holds scheduled tasks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.ScheduledTask) error
	GetTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]models.ScheduledTask, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, runID string) (*models.ScheduledTask, error)
}

// MonitorStore holds reachability samples.
type MonitorStore interface {
	AppendMonitorLog(ctx context.Context, entry models.MonitorLog) error
	ListMonitorLogs(ctx context.Context, serverID string, limit int) ([]models.MonitorLog, error)
}

// Store is the full persistence surface used by the process.
type Store interface {
	ServerStore
	RunStore
	TaskStore
	MonitorStore
	Close() error
}
