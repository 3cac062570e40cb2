// Package metrics exposes Prometheus metrics for restart runs, schedules and monitoring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Restart runs
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gorestart_runs_total",
			Help: "Total number of finished restart runs by status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gorestart_run_duration_seconds",
			Help:    "Restart run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	ServerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gorestart_server_outcomes_total",
			Help: "Per-server restart outcomes by kind (restarted or an error kind)",
		},
		[]string{"outcome"},
	)

	// Scheduler
	ScheduledTasksArmed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gorestart_scheduled_tasks_armed",
			Help: "Number of scheduled tasks waiting to fire",
		},
	)

	ScheduledTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gorestart_scheduled_tasks_total",
			Help: "Total number of scheduled tasks that reached a terminal status",
		},
		[]string{"status"},
	)

	// Monitoring
	ServerUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gorestart_server_up",
			Help: "Whether the server answered the last probe (1 = up, 0 = down)",
		},
		[]string{"server"},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gorestart_probe_duration_seconds",
			Help:    "Reachability probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Events
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gorestart_events_dropped_total",
			Help: "Total number of live events dropped because a buffer was full",
		},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(ServerOutcomesTotal)
	prometheus.MustRegister(ScheduledTasksArmed)
	prometheus.MustRegister(ScheduledTasksTotal)
	prometheus.MustRegister(ServerUp)
	prometheus.MustRegister(ProbeDuration)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
