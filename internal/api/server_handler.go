package api

import (
	"errors"
	"net/http"

	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// serverStatus is a server together with its last known health.
type serverStatus struct {
	models.Server
	Health models.ServerHealth `json:"health"`
}

// ListServers handles GET /api/servers
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list servers")
		h.respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	h.respondJSON(w, http.StatusOK, servers)
}

// GetServer handles GET /api/servers/{id}
func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	srv, err := h.store.GetServer(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("server_id", id).Msg("failed to get server")
		h.respondError(w, http.StatusInternalServerError, "failed to get server")
		return
	}

	h.respondJSON(w, http.StatusOK, srv)
}

// MonitoringStatus handles GET /api/monitoring/status
func (h *Handler) MonitoringStatus(w http.ResponseWriter, r *http.Request) {
	servers, err := h.store.ListServers(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list servers")
		h.respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}

	out := make([]serverStatus, 0, len(servers))
	for _, srv := range servers {
		if !srv.IsActive {
			continue
		}
		health, ok := h.status.Get(srv.ID)
		if !ok {
			health = models.ServerHealth{ServerID: srv.ID, Status: models.ServerStatusUnknown}
		}
		out = append(out, serverStatus{Server: srv, Health: health})
	}

	h.respondJSON(w, http.StatusOK, out)
}

// MonitoringHistory handles GET /api/monitoring/history/{serverId}
func (h *Handler) MonitoringHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "serverId")

	limit, err := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.store.GetServer(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "server not found")
			return
		}
		h.logger.Error().Err(err).Str("server_id", id).Msg("failed to get server")
		h.respondError(w, http.StatusInternalServerError, "failed to get server")
		return
	}

	logs, err := h.store.ListMonitorLogs(r.Context(), id, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("server_id", id).Msg("failed to list monitor logs")
		h.respondError(w, http.StatusInternalServerError, "failed to list monitor logs")
		return
	}

	h.respondJSON(w, http.StatusOK, logs)
}
