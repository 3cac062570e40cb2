// Package api exposes the restart console over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/cache"
	"github.com/fgeck/gorestart-homelab/internal/events"
	"github.com/fgeck/gorestart-homelab/internal/metrics"
	"github.com/fgeck/gorestart-homelab/internal/services/orchestrator"
	"github.com/fgeck/gorestart-homelab/internal/services/scheduler"
	"github.com/fgeck/gorestart-homelab/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Store is the persistence the API reads and writes.
type Store interface {
	storage.ServerStore
	storage.RunStore
	storage.TaskStore
	storage.MonitorStore
}

// EventStream is where restart progress is published and where websocket
// clients subscribe.
type EventStream interface {
	events.Sink
	Subscribe() events.Subscriber
	Unsubscribe(sub events.Subscriber)
}

// Handler holds the HTTP handlers and dependencies
type Handler struct {
	store        Store
	orchestrator orchestrator.Service
	scheduler    scheduler.Service
	status       cache.StatusCache
	events       EventStream
	validator    *validator.Validate
	upgrader     websocket.Upgrader
	newID        func() string
	now          func() time.Time
	logger       zerolog.Logger

	// runCtx outlives requests. Event streams end with it; restart runs only
	// inherit its values.
	runCtx context.Context
	runs   sync.WaitGroup
}

// NewHandler creates a new HTTP handler. Cancelling ctx closes websocket
// streams; restart runs already started are left to finish.
func NewHandler(
	ctx context.Context,
	logger zerolog.Logger,
	store Store,
	orch orchestrator.Service,
	sched scheduler.Service,
	status cache.StatusCache,
	stream EventStream,
) *Handler {
	return &Handler{
		store:        store,
		orchestrator: orch,
		scheduler:    sched,
		status:       status,
		events:       stream,
		validator:    validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		newID:  uuid.NewString,
		now:    time.Now,
		logger: logger,
		runCtx: ctx,
	}
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", h.ListServers)
		r.Get("/servers/{id}", h.GetServer)

		r.Get("/monitoring/status", h.MonitoringStatus)
		r.Get("/monitoring/history/{serverId}", h.MonitoringHistory)

		r.Post("/restart", h.StartRestart)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)

		r.Get("/schedules", h.ListSchedules)
		r.Post("/schedules", h.CreateSchedule)
		r.Get("/schedules/{id}", h.GetSchedule)
		r.Delete("/schedules/{id}", h.CancelSchedule)

		r.Get("/events", h.StreamEvents)
	})

	return r
}

// Wait blocks until restart runs started through the API have finished.
func (h *Handler) Wait() {
	h.runs.Wait()
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// errorResponse represents an error response
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// respondError writes an error response
func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorResponse{Error: message})
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the caller may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validator.Struct(v); err != nil {
		h.respondError(w, http.StatusBadRequest, formatValidationErrors(err))
		return false
	}
	return true
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		switch fieldError.Tag() {
		case "required", "required_if":
			messages = append(messages, fieldError.Field()+" is required")
		case "min":
			messages = append(messages, fieldError.Field()+" must have at least "+fieldError.Param()+" item(s)")
		case "max":
			messages = append(messages, fieldError.Field()+" must be at most "+fieldError.Param()+" characters")
		case "email":
			messages = append(messages, fieldError.Field()+" must be a valid email address")
		default:
			messages = append(messages, fieldError.Field()+" is invalid")
		}
	}
	return strings.Join(messages, "; ")
}

// queryLimit parses ?limit=, falling back to def and capping at upper.
func queryLimit(r *http.Request, def, upper int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > upper {
		n = upper
	}
	return n, nil
}
