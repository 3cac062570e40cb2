//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorestart-homelab/internal/services/probe"
	"github.com/fgeck/gorestart-homelab/internal/services/scheduler"
	"github.com/fgeck/gorestart-homelab/internal/services/ssh"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// stubProber treats every host as reachable.
type stubProber struct{}

func (stubProber) Ping(ctx context.Context, host string) (*models.ProbeResult, error) {
	return &models.ProbeResult{Reachable: true, Latency: time.Millisecond}, nil
}

func (stubProber) TCP(ctx context.Context, host string, port int) (*models.ProbeResult, error) {
	return &models.ProbeResult{Reachable: true, Latency: time.Millisecond}, nil
}

// recordingExecutor records the hosts it was asked to restart.
type recordingExecutor struct {
	mu    sync.Mutex
	hosts []string
}

func (e *recordingExecutor) Execute(ctx context.Context, target models.SSHTarget, command string) (*models.CommandResult, error) {
	e.mu.Lock()
	e.hosts = append(e.hosts, target.Host)
	e.mu.Unlock()
	code := 0
	return &models.CommandResult{CommandRun: true, ExitCode: &code}, nil
}

func (e *recordingExecutor) TestConnection(ctx context.Context, target models.SSHTarget) (*models.CommandResult, error) {
	return &models.CommandResult{CommandRun: true, Output: "OK"}, nil
}

func (e *recordingExecutor) calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.hosts...)
}

func openStore(t *testing.T, path string) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	return store
}

func inventory() []models.Server {
	return []models.Server{
		{ID: "web", Name: "web-01", Hostname: "web-01.lan", RestartOrder: 2, IsActive: true},
		{ID: "db", Name: "db-01", Hostname: "db-01.lan", RestartOrder: 1, IsActive: true},
		{ID: "legacy", Name: "legacy-01", Hostname: "legacy-01.lan", RestartOrder: 3, IsActive: false},
	}
}

func newTask(id string, at time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{
		ID:            id,
		Name:          "nightly " + id,
		ServerIDs:     []string{"web", "db", "legacy"},
		ScheduledTime: at.UTC(),
		Status:        models.TaskStatusPending,
		CreatedBy:     "integration",
	}
}

func TestScheduledRestartRunsThroughStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openStore(t, filepath.Join(t.TempDir(), "gorestart.db"))
	defer func() { _ = store.Close() }()
	require.NoError(t, store.SyncServers(ctx, inventory()))

	executor := &recordingExecutor{}
	orch := orchestrator.NewWithServices(testLogger(), models.Config{}, store, stubProber{}, executor, nil, nil)
	sched := scheduler.New(testLogger(), store, orch, scheduler.Notifiers{})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	_, err := sched.Initialize(ctx, broker)
	require.NoError(t, err)

	task := newTask("task-1", time.Now().Add(300*time.Millisecond))
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, sched.ScheduleTask(ctx, *task))
	assert.True(t, sched.Armed(task.ID))

	require.Eventually(t, func() bool {
		got, err := store.GetTask(ctx, task.ID)
		return err == nil && got.Status == models.TaskStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, got.LastRunID)
	assert.False(t, sched.Armed(task.ID))

	run, err := store.GetRun(ctx, got.LastRunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.True(t, run.IsScheduled)
	assert.ElementsMatch(t, []string{"web", "db"}, run.ServerIDs)
	require.NotNil(t, run.EndTime)
	assert.Len(t, run.Details.Servers, 2)
	assert.Empty(t, run.Details.Errors)

	// Restart order is ascending, inactive servers are skipped.
	assert.Equal(t, []string{"db-01.lan", "web-01.lan"}, executor.calls())

	seen := map[models.EventKind]bool{}
	timeout := time.After(5 * time.Second)
	for !seen[models.EventTaskStatus] {
		select {
		case ev := <-sub:
			seen[ev.Kind] = true
		case <-timeout:
			t.Fatalf("missing events, got %v", seen)
		}
	}
	assert.True(t, seen[models.EventRunStarted])

	require.NoError(t, sched.Shutdown(ctx))
}

func TestPendingTasksSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gorestart.db")

	store := openStore(t, path)
	require.NoError(t, store.SyncServers(ctx, inventory()))
	future := newTask("future", time.Now().Add(time.Hour))
	missed := newTask("missed", time.Now().Add(50*time.Millisecond))
	require.NoError(t, store.CreateTask(ctx, future))
	require.NoError(t, store.CreateTask(ctx, missed))
	require.NoError(t, store.Close())

	// The process is down while the second task comes due.
	time.Sleep(100 * time.Millisecond)

	store = openStore(t, path)
	defer func() { _ = store.Close() }()

	orch := orchestrator.NewWithServices(testLogger(), models.Config{}, store, stubProber{}, &recordingExecutor{}, nil, nil)
	sched := scheduler.New(testLogger(), store, orch, scheduler.Notifiers{})

	armed, err := sched.Initialize(ctx, events.Discard)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	assert.True(t, sched.Armed(future.ID))
	assert.False(t, sched.Armed(missed.ID))

	got, err := store.GetTask(ctx, missed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status)

	runs, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.NoError(t, sched.Shutdown(ctx))
	assert.Equal(t, 0, sched.ArmedCount())

	got, err = store.GetTask(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status, "shutdown disarms without finalizing")
}

func TestCancelledTaskNeverRuns(t *testing.T) {
	ctx := context.Background()

	store := openStore(t, filepath.Join(t.TempDir(), "gorestart.db"))
	defer func() { _ = store.Close() }()
	require.NoError(t, store.SyncServers(ctx, inventory()))

	executor := &recordingExecutor{}
	orch := orchestrator.NewWithServices(testLogger(), models.Config{}, store, stubProber{}, executor, nil, nil)
	sched := scheduler.New(testLogger(), store, orch, scheduler.Notifiers{})
	_, err := sched.Initialize(ctx, events.Discard)
	require.NoError(t, err)

	task := newTask("cancel-me", time.Now().Add(200*time.Millisecond))
	require.NoError(t, store.CreateTask(ctx, task))
	require.NoError(t, sched.ScheduleTask(ctx, *task))

	_, err = store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCancelled, "")
	require.NoError(t, err)
	sched.CancelScheduledTask(task.ID)

	time.Sleep(500 * time.Millisecond)

	assert.Empty(t, executor.calls())
	got, err := store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)

	require.NoError(t, sched.Shutdown(ctx))
}

// TestRealSSHRestart runs a harmless command as the restart script against a
// real host.
func TestRealSSHRestart(t *testing.T) {
	host := os.Getenv("TEST_SSH_HOST")
	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if host == "" || keyPath == "" {
		t.Skip("TEST_SSH_HOST or TEST_SSH_KEY_PATH not set")
	}
	port := 22
	if p := os.Getenv("TEST_SSH_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}
	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "gorestart.db"))
	defer func() { _ = store.Close() }()

	srv := models.Server{
		ID:         "real",
		Name:       "real",
		Hostname:   host,
		SSHPort:    port,
		ScriptPath: "echo restarted",
		IsActive:   true,
	}
	require.NoError(t, store.SyncServers(ctx, []models.Server{srv}))

	cfg := models.Config{
		SSH: models.SSHConfig{
			Username:       user,
			KeyPath:        keyPath,
			KnownHostsPath: os.Getenv("TEST_SSH_KNOWN_HOSTS"),
			ConnectTimeout: 10 * time.Second,
			CommandTimeout: 30 * time.Second,
		},
	}
	prober := probe.New(testLogger(), 5*time.Second)
	orch := orchestrator.NewWithServices(testLogger(), cfg, store, prober, ssh.New(testLogger(), cfg.SSH), nil, nil)

	run := &models.RestartRun{
		ID:          uuid.NewString(),
		InitiatedBy: "integration",
		ServerIDs:   []string{srv.ID},
		Status:      models.RunStatusStarted,
		StartTime:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateRun(ctx, run))

	require.NoError(t, orch.ExecuteRestart(ctx, []models.Server{srv}, run, events.NewLogSink(testLogger())))

	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status, "errors: %+v", stored.Details.Errors)
}
