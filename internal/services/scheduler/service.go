// Package scheduler arms persisted restart tasks and runs them through the
// orchestrator when they come due.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/metrics"
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/email"
	"github.com/fgeck/gorestart-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorestart-homelab/internal/services/sms"
	"github.com/fgeck/gorestart-homelab/internal/services/telegram"
	"github.com/google/uuid"
	"github.com/robfig/cron"
	"github.com/rs/zerolog"
)

// ErrPastDue is returned when a task's scheduled time has already passed.
var ErrPastDue = errors.New("scheduled time is in the past")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks a standard five-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextOccurrence returns the first time after from matching expr.
func NextOccurrence(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// Service defines the interface for the scheduling subsystem.
type Service interface {
	ScheduleTask(ctx context.Context, task models.ScheduledTask) error
	CancelScheduledTask(taskID string)
	Initialize(ctx context.Context, sink events.Sink) (int, error)
	Shutdown(ctx context.Context) error
	Armed(taskID string) bool
	ArmedCount() int
}

// Store is the persistence the scheduler needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, runID string) (*models.ScheduledTask, error)
	ListActiveServers(ctx context.Context, ids []string) ([]models.Server, error)
	CreateRun(ctx context.Context, run *models.RestartRun) error
}

// Notifiers are the optional channels used when a task fires. Nil fields are skipped.
type Notifiers struct {
	Email          email.Service
	SMS            sms.Service
	Telegram       telegram.Service
	TelegramConfig *models.TelegramConfig
}

// Impl implements the scheduler Service interface.
type Impl struct {
	store        Store
	orchestrator orchestrator.Service
	notifiers    Notifiers
	state        *State
	deferrer     Deferrer
	now          func() time.Time
	newID        func() string
	logger       zerolog.Logger

	mu      sync.RWMutex
	baseCtx context.Context
	sink    events.Sink

	inflight sync.WaitGroup
}

// New creates a new scheduler using wall-clock timers.
func New(logger zerolog.Logger, store Store, orch orchestrator.Service, notifiers Notifiers) *Impl {
	return NewWithDeferrer(logger, store, orch, notifiers, TimerDeferrer{}, time.Now)
}

// NewWithDeferrer creates a new scheduler with a custom trigger source and clock (for testing).
func NewWithDeferrer(
	logger zerolog.Logger,
	store Store,
	orch orchestrator.Service,
	notifiers Notifiers,
	deferrer Deferrer,
	now func() time.Time,
) *Impl {
	return &Impl{
		store:        store,
		orchestrator: orch,
		notifiers:    notifiers,
		state:        NewState(),
		deferrer:     deferrer,
		now:          now,
		newID:        uuid.NewString,
		logger:       logger,
		baseCtx:      context.Background(),
		sink:         events.Discard,
	}
}

// Initialize binds the event sink and the context whose values fired tasks
// inherit (not its cancellation), then arms every pending task. Tasks that came due while the process was down are
// marked failed. It returns the number of tasks armed.
func (s *Impl) Initialize(ctx context.Context, sink events.Sink) (int, error) {
	s.mu.Lock()
	s.baseCtx = ctx
	if sink != nil {
		s.sink = sink
	}
	s.mu.Unlock()

	tasks, err := s.store.ListTasksByStatus(ctx, models.TaskStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending tasks: %w", err)
	}

	armed := 0
	for _, task := range tasks {
		err := s.ScheduleTask(ctx, task)
		switch {
		case err == nil:
			armed++
		case errors.Is(err, ErrPastDue):
			s.logger.Warn().
				Str("task_id", task.ID).
				Time("scheduled_time", task.ScheduledTime).
				Msg("task came due while offline, marked failed")
		default:
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to re-arm task")
		}
	}

	s.logger.Info().
		Int("pending", len(tasks)).
		Int("armed", armed).
		Msg("scheduler initialized")

	return armed, nil
}

// ScheduleTask arms a trigger for task at its scheduled time, replacing any
// trigger already armed for the same id. A task whose time has passed is
// marked failed instead and ErrPastDue is returned.
func (s *Impl) ScheduleTask(ctx context.Context, task models.ScheduledTask) error {
	if task.Status != models.TaskStatusPending {
		return fmt.Errorf("task %s is %s, only pending tasks can be scheduled", task.ID, task.Status)
	}

	logger := s.logger.With().Str("task_id", task.ID).Logger()
	delay := task.ScheduledTime.Sub(s.now())

	if delay <= 0 {
		s.state.disarm(task.ID)
		updated, err := s.store.UpdateTaskStatus(ctx, task.ID, models.TaskStatusFailed, "")
		if err != nil {
			return fmt.Errorf("failed to mark past-due task %s failed: %w", task.ID, err)
		}
		metrics.ScheduledTasksTotal.WithLabelValues(string(models.TaskStatusFailed)).Inc()
		s.publish(models.TaskStatusEvent(*updated, "Scheduled time is in the past"))
		return fmt.Errorf("task %s at %s: %w", task.ID, task.ScheduledTime.Format(time.RFC3339), ErrPastDue)
	}

	if !s.state.arm(task.ID, s.deferrer, delay, func(e *entry) { s.fire(task.ID, e) }) {
		return errors.New("scheduler is shut down")
	}

	ev := logger.Info().
		Str("name", task.Name).
		Time("scheduled_time", task.ScheduledTime).
		Dur("delay", delay)
	if task.IsRecurring {
		ev = ev.Str("cron", task.CronExpression)
	}
	ev.Msg("task scheduled")

	return nil
}

// CancelScheduledTask disarms the trigger for taskID if one is armed. The
// persisted task is not touched.
func (s *Impl) CancelScheduledTask(taskID string) {
	if s.state.disarm(taskID) {
		s.logger.Info().Str("task_id", taskID).Msg("scheduled task disarmed")
	}
}

// Shutdown disarms every trigger and waits for tasks already firing to finish
// or for ctx to expire.
func (s *Impl) Shutdown(ctx context.Context) error {
	s.state.shutdown()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}
}

// Armed reports whether a trigger is armed for taskID.
func (s *Impl) Armed(taskID string) bool {
	return s.state.has(taskID)
}

// ArmedCount returns the number of armed triggers.
func (s *Impl) ArmedCount() int {
	return s.state.size()
}

func (s *Impl) fire(taskID string, e *entry) {
	if !s.state.claim(taskID, e, func() { s.inflight.Add(1) }) {
		return
	}
	defer s.inflight.Done()
	defer s.state.release(taskID, e)

	s.mu.RLock()
	ctx := s.baseCtx
	s.mu.RUnlock()

	// A started run is never cut short; Shutdown waits for it instead.
	s.executeScheduledTask(context.WithoutCancel(ctx), taskID)
}

// executeScheduledTask runs a due task: resolve servers, notify, restart and
// record the outcome on the task.
func (s *Impl) executeScheduledTask(ctx context.Context, taskID string) {
	logger := s.logger.With().Str("task_id", taskID).Logger()

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load scheduled task")
		return
	}
	if task.Status != models.TaskStatusPending {
		logger.Info().Str("status", string(task.Status)).Msg("task is no longer pending, skipping")
		return
	}

	logger.Info().Str("name", task.Name).Msg("executing scheduled task")

	servers, err := s.store.ListActiveServers(ctx, task.ServerIDs)
	if err != nil {
		s.finish(ctx, task, models.TaskStatusFailed, nil, fmt.Sprintf("failed to resolve servers: %v", err))
		return
	}
	if len(servers) == 0 {
		logger.Warn().Strs("server_ids", task.ServerIDs).Msg("no eligible servers for scheduled task")
		s.finish(ctx, task, models.TaskStatusFailed, nil, "No eligible servers found")
		return
	}

	s.notifyStart(ctx, logger, *task)

	ids := make([]string, len(servers))
	for i, srv := range servers {
		ids[i] = srv.ID
	}

	initiatedBy := task.CreatedBy
	if initiatedBy == "" {
		initiatedBy = "scheduler"
	}

	run := &models.RestartRun{
		ID:          s.newID(),
		InitiatedBy: initiatedBy,
		ServerIDs:   ids,
		Status:      models.RunStatusStarted,
		StartTime:   s.now().UTC(),
		IsScheduled: true,
		TaskID:      task.ID,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.finish(ctx, task, models.TaskStatusFailed, nil, fmt.Sprintf("failed to create run: %v", err))
		return
	}

	if err := s.runOrchestrator(ctx, servers, run); err != nil {
		s.finish(ctx, task, models.TaskStatusFailed, run, fmt.Sprintf("Scheduled restart failed: %v", err))
		return
	}

	s.finish(ctx, task, models.TaskStatusCompleted, run, "Scheduled restart executed")
}

func (s *Impl) runOrchestrator(ctx context.Context, servers []models.Server, run *models.RestartRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic: %v", r)
		}
	}()

	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()

	return s.orchestrator.ExecuteRestart(ctx, servers, run, sink)
}

func (s *Impl) notifyStart(ctx context.Context, logger zerolog.Logger, task models.ScheduledTask) {
	if task.WantsEmail() && s.notifiers.Email != nil {
		if err := s.notifiers.Email.SendScheduledRestartNotification(ctx, task, task.NotificationEmails); err != nil {
			logger.Error().Err(err).Msg("failed to send scheduled restart email")
		}
	}
	if task.WantsSMS() && s.notifiers.SMS != nil {
		if err := s.notifiers.SMS.SendScheduledTaskSMS(ctx, task, task.NotificationPhones); err != nil {
			logger.Error().Err(err).Msg("failed to send scheduled restart SMS")
		}
	}
}

// finish records the terminal status of a fired task and announces it.
func (s *Impl) finish(ctx context.Context, task *models.ScheduledTask, status models.TaskStatus, run *models.RestartRun, message string) {
	logger := s.logger.With().Str("task_id", task.ID).Logger()
	ctx = context.WithoutCancel(ctx)

	runID := ""
	if run != nil {
		runID = run.ID
	}

	updated, err := s.store.UpdateTaskStatus(ctx, task.ID, status, runID)
	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to update scheduled task status")
		return
	}

	metrics.ScheduledTasksTotal.WithLabelValues(string(status)).Inc()
	s.publish(models.TaskStatusEvent(*updated, message))

	logger.Info().
		Str("status", string(status)).
		Str("run_id", runID).
		Msg(message)

	if task.IsRecurring && task.CronExpression != "" {
		if next, err := NextOccurrence(task.CronExpression, s.now()); err == nil {
			logger.Info().Time("next", next).Msg("recurring task is not re-armed automatically")
		}
	}

	s.notifyOutcome(ctx, logger, *updated, run, status, message)
}

func (s *Impl) notifyOutcome(
	ctx context.Context,
	logger zerolog.Logger,
	task models.ScheduledTask,
	run *models.RestartRun,
	status models.TaskStatus,
	message string,
) {
	if s.notifiers.Telegram == nil || s.notifiers.TelegramConfig == nil {
		return
	}

	msg := models.TaskNotification{
		TaskName:      task.Name,
		ScheduledTime: task.ScheduledTime,
		ServerCount:   len(task.ServerIDs),
		Status:        status,
	}
	if run != nil {
		msg.RunID = run.ID
		details := run.Details
		msg.Details = &details
	}
	if status != models.TaskStatusCompleted {
		msg.ErrorMessage = message
	}

	result, err := s.notifiers.Telegram.SendTaskNotification(ctx, *s.notifiers.TelegramConfig, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("failed to send Telegram notification")
	}
}

func (s *Impl) publish(ev models.Event) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	sink.Publish(ev)
}
