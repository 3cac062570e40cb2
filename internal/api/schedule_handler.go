package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/services/scheduler"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/go-chi/chi/v5"
)

type scheduleRequest struct {
	Name               string    `json:"name" validate:"required,max=200"`
	ServerIDs          []string  `json:"serverIds" validate:"required,min=1,dive,required"`
	ScheduledTime      time.Time `json:"scheduledTime" validate:"required"`
	IsRecurring        bool      `json:"isRecurring"`
	CronExpression     string    `json:"cronExpression" validate:"required_if=IsRecurring true"`
	CreatedBy          string    `json:"createdBy" validate:"max=128"`
	EmailNotification  bool      `json:"emailNotification"`
	NotificationEmails []string  `json:"notificationEmails" validate:"omitempty,dive,email"`
	SMSNotification    bool      `json:"smsNotification"`
	NotificationPhones []string  `json:"notificationPhones" validate:"omitempty,dive,required"`
}

// ListSchedules handles GET /api/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.store.ListTasks(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list scheduled tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list scheduled tasks")
		return
	}

	h.respondJSON(w, http.StatusOK, tasks)
}

// GetSchedule handles GET /api/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.store.GetTask(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "scheduled task not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("task_id", id).Msg("failed to get scheduled task")
		h.respondError(w, http.StatusInternalServerError, "failed to get scheduled task")
		return
	}

	h.respondJSON(w, http.StatusOK, task)
}

// CreateSchedule handles POST /api/schedules. The task is stored first and
// then armed; a task whose time already passed is stored as failed and
// returned with 422.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	cronExpr := strings.TrimSpace(req.CronExpression)
	if req.IsRecurring {
		if err := scheduler.ValidateCron(cronExpr); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	task := &models.ScheduledTask{
		ID:                 h.newID(),
		Name:               req.Name,
		ServerIDs:          req.ServerIDs,
		ScheduledTime:      req.ScheduledTime.UTC(),
		IsRecurring:        req.IsRecurring,
		CronExpression:     cronExpr,
		Status:             models.TaskStatusPending,
		CreatedBy:          req.CreatedBy,
		EmailNotification:  req.EmailNotification,
		NotificationEmails: req.NotificationEmails,
		SMSNotification:    req.SMSNotification,
		NotificationPhones: req.NotificationPhones,
	}
	if err := h.store.CreateTask(r.Context(), task); err != nil {
		h.logger.Error().Err(err).Msg("failed to create scheduled task")
		h.respondError(w, http.StatusInternalServerError, "failed to create scheduled task")
		return
	}

	err := h.scheduler.ScheduleTask(r.Context(), *task)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusCreated, task)
	case errors.Is(err, scheduler.ErrPastDue):
		stored, getErr := h.store.GetTask(r.Context(), task.ID)
		if getErr != nil {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.respondJSON(w, http.StatusUnprocessableEntity, stored)
	default:
		h.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to schedule task")
		h.respondError(w, http.StatusInternalServerError, "failed to schedule task")
	}
}

// CancelSchedule handles DELETE /api/schedules/{id}
func (h *Handler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.store.UpdateTaskStatus(r.Context(), id, models.TaskStatusCancelled, "")
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "scheduled task not found")
		return
	case errors.Is(err, storage.ErrTaskFinalized):
		h.respondError(w, http.StatusConflict, "only pending tasks can be cancelled")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("task_id", id).Msg("failed to cancel scheduled task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel scheduled task")
		return
	}

	h.scheduler.CancelScheduledTask(id)
	h.events.Publish(models.TaskStatusEvent(*task, "Scheduled task cancelled"))

	h.logger.Info().Str("task_id", id).Msg("scheduled task cancelled")
	h.respondJSON(w, http.StatusOK, task)
}
