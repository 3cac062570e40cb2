package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testServers() []models.Server {
	return []models.Server{
		{ID: "web", Name: "web", Hostname: "web.lan", RestartOrder: 2, IsActive: true},
		{ID: "db", Name: "db", Hostname: "db.lan", RestartOrder: 1, IsActive: true},
		{ID: "old", Name: "old", Hostname: "old.lan", RestartOrder: 3, IsActive: false},
	}
}

func TestServers_SyncAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SyncServers(ctx, testServers()))

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "db", servers[0].ID)
	assert.Equal(t, "web", servers[1].ID)
	assert.Equal(t, "old", servers[2].ID)

	srv, err := store.GetServer(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web.lan", srv.Hostname)
}

func TestServers_SyncReplacesInventory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.SyncServers(ctx, testServers()))
	require.NoError(t, store.SyncServers(ctx, []models.Server{{ID: "new", Hostname: "new.lan", IsActive: true}}))

	servers, err := store.ListServers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "new", servers[0].ID)

	_, err = store.GetServer(ctx, "web")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServers_ListActiveKeepsRequestedOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SyncServers(ctx, testServers()))

	servers, err := store.ListActiveServers(ctx, []string{"web", "missing", "old", "db", "web"})
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "web", servers[0].ID)
	assert.Equal(t, "db", servers[1].ID)

	servers, err = store.ListActiveServers(ctx, []string{"old"})
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestRuns_CreateAndFinish(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &models.RestartRun{
		ID:          "run-1",
		InitiatedBy: "alice",
		ServerIDs:   []string{"db"},
		Status:      models.RunStatusStarted,
		StartTime:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	end := time.Now().UTC()
	details := models.RunDetails{
		Servers: []models.ServerSuccess{{ServerID: "db", Name: "db", Hostname: "db.lan", Timestamp: end}},
	}
	require.NoError(t, store.FinishRun(ctx, "run-1", models.RunStatusCompleted, details, end))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.True(t, got.EndTime.Equal(end))
	require.Len(t, got.Details.Servers, 1)
	assert.Equal(t, "db", got.Details.Servers[0].ServerID)
}

func TestRuns_FinishTwiceIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateRun(ctx, &models.RestartRun{ID: "run-1", Status: models.RunStatusStarted}))

	first := time.Now().UTC()
	require.NoError(t, store.FinishRun(ctx, "run-1", models.RunStatusFailed, models.RunDetails{Fatal: "boom"}, first))

	err := store.FinishRun(ctx, "run-1", models.RunStatusCompleted, models.RunDetails{}, first.Add(time.Minute))
	assert.ErrorIs(t, err, ErrRunFinalized)

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Details.Fatal)
	assert.True(t, got.EndTime.Equal(first))
}

func TestRuns_FinishErrors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.FinishRun(ctx, "missing", models.RunStatusCompleted, models.RunDetails{}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.CreateRun(ctx, &models.RestartRun{ID: "run-1", Status: models.RunStatusStarted}))
	err = store.FinishRun(ctx, "run-1", models.RunStatusStarted, models.RunDetails{}, time.Now())
	assert.Error(t, err)
}

func TestRuns_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, &models.RestartRun{
			ID:        id,
			Status:    models.RunStatusStarted,
			StartTime: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	runs, err = store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[1].ID)
}

func TestTasks_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	task := &models.ScheduledTask{
		ID:            "task-1",
		Name:          "nightly",
		ServerIDs:     []string{"db"},
		ScheduledTime: time.Now().Add(time.Hour).UTC(),
		Status:        models.TaskStatusPending,
	}
	require.NoError(t, store.CreateTask(ctx, task))
	assert.False(t, task.CreatedAt.IsZero())

	updated, err := store.UpdateTaskStatus(ctx, "task-1", models.TaskStatusCompleted, "run-9")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
	assert.Equal(t, "run-9", updated.LastRunID)

	_, err = store.UpdateTaskStatus(ctx, "task-1", models.TaskStatusCancelled, "")
	assert.ErrorIs(t, err, ErrTaskFinalized)

	got, err := store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	assert.Equal(t, "run-9", got.LastRunID)

	_, err = store.UpdateTaskStatus(ctx, "missing", models.TaskStatusFailed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTasks_ListByStatus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []models.ScheduledTask{
		{ID: "late", ScheduledTime: base.Add(2 * time.Hour), Status: models.TaskStatusPending},
		{ID: "early", ScheduledTime: base.Add(time.Hour), Status: models.TaskStatusPending},
		{ID: "done", ScheduledTime: base, Status: models.TaskStatusCompleted},
	}
	for i := range tasks {
		require.NoError(t, store.CreateTask(ctx, &tasks[i]))
	}

	pending, err := store.ListTasksByStatus(ctx, models.TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "early", pending[0].ID)
	assert.Equal(t, "late", pending[1].ID)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "done", all[0].ID)
}

func TestMonitorLogs_NewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMonitorLog(ctx, models.MonitorLog{
			ServerID:   "db",
			PingStatus: i%2 == 0,
			CheckedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.AppendMonitorLog(ctx, models.MonitorLog{ServerID: "web", CheckedAt: base}))

	logs, err := store.ListMonitorLogs(ctx, "db", 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.True(t, logs[0].CheckedAt.Equal(base.Add(4*time.Minute)))
	assert.True(t, logs[2].CheckedAt.Equal(base.Add(2*time.Minute)))

	logs, err = store.ListMonitorLogs(ctx, "unknown", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestMonitorLogs_Pruned(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < maxMonitorLogs+10; i++ {
		require.NoError(t, store.AppendMonitorLog(ctx, models.MonitorLog{ServerID: "db"}))
	}

	logs, err := store.ListMonitorLogs(ctx, "db", 0)
	require.NoError(t, err)
	assert.Len(t, logs, maxMonitorLogs)
}

func TestCancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.ListServers(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
