package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

type restartRequest struct {
	ServerIDs   []string `json:"serverIds" validate:"required,min=1,dive,required"`
	InitiatedBy string   `json:"initiatedBy" validate:"max=128"`
}

type restartResponse struct {
	RunID   string           `json:"runId"`
	Status  models.RunStatus `json:"status"`
	Servers int              `json:"servers"`
}

// StartRestart handles POST /api/restart. The run continues in the
// background; progress is streamed on /api/events.
func (h *Handler) StartRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if !h.decode(w, r, &req) {
		return
	}

	servers, err := h.store.ListActiveServers(r.Context(), req.ServerIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to resolve servers")
		h.respondError(w, http.StatusInternalServerError, "failed to resolve servers")
		return
	}
	if len(servers) == 0 {
		h.respondError(w, http.StatusNotFound, "no active servers found")
		return
	}

	ids := make([]string, len(servers))
	for i, srv := range servers {
		ids[i] = srv.ID
	}

	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "api"
	}

	run := &models.RestartRun{
		ID:          h.newID(),
		InitiatedBy: initiatedBy,
		ServerIDs:   ids,
		Status:      models.RunStatusStarted,
		StartTime:   h.now().UTC(),
	}
	if err := h.store.CreateRun(r.Context(), run); err != nil {
		h.logger.Error().Err(err).Msg("failed to create run")
		h.respondError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.logger.Info().
		Str("run_id", run.ID).
		Str("initiated_by", initiatedBy).
		Int("servers", len(servers)).
		Msg("restart run accepted")

	// The run keeps the lifecycle context's values but not its cancellation:
	// shutdown waits for it through Wait.
	runCtx := context.WithoutCancel(h.runCtx)

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if err := h.orchestrator.ExecuteRestart(runCtx, servers, run, h.events); err != nil {
			h.logger.Error().Err(err).Str("run_id", run.ID).Msg("restart run failed")
		}
	}()

	h.respondJSON(w, http.StatusAccepted, restartResponse{
		RunID:   run.ID,
		Status:  models.RunStatusStarted,
		Servers: len(servers),
	})
}

// ListRuns handles GET /api/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list runs")
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	h.respondJSON(w, http.StatusOK, runs)
}

// GetRun handles GET /api/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", id).Msg("failed to get run")
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}
