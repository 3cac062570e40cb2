package events

import (
	"github.com/fgeck/gorestart-homelab/internal/models"
	"github.com/rs/zerolog"
)

// LogSink writes events to a logger. Used for CLI runs without live observers.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the event at a level matching its kind.
func (s *LogSink) Publish(event models.Event) {
	var ev *zerolog.Event
	switch event.Kind {
	case models.EventServerError, models.EventRunFailed:
		ev = s.logger.Warn()
	case models.EventServerStatus:
		ev = s.logger.Debug()
	default:
		ev = s.logger.Info()
	}

	ev = ev.Str("kind", string(event.Kind)).Str("status", event.Status)
	if event.RunID != "" {
		ev = ev.Str("run_id", event.RunID)
	}
	if event.ServerID != "" {
		ev = ev.Str("server_id", event.ServerID)
	}
	if event.TaskID != "" {
		ev = ev.Str("task_id", event.TaskID)
	}
	if event.Details != nil {
		ev = ev.Int("restarted", len(event.Details.Servers)).Int("errors", len(event.Details.Errors))
	}
	ev.Msg(event.Message)
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Publish forwards the event to every non-nil sink.
func (m Multi) Publish(event models.Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(event)
		}
	}
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(models.Event) {}
