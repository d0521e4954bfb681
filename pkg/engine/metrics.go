package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// tasksTotal counts terminal dispatch outcomes per provider.
	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpulse_tasks_total",
			Help: "Tasks that reached a terminal state",
		},
		[]string{"provider", "status"},
	)

	tasksInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genpulse_tasks_in_flight",
			Help: "Tasks currently being polled",
		},
		[]string{"provider"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genpulse_task_duration_seconds",
			Help:    "Time from submit to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"provider"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpulse_rate_limited_total",
			Help: "Dispatch attempts re-queued by the rate gate",
		},
		[]string{"key"},
	)

	pollErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genpulse_poll_errors_total",
			Help: "Status checks that failed and were retried",
		},
	)

	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genpulse_webhook_deliveries_total",
			Help: "Callback deliveries by outcome",
		},
		[]string{"outcome"},
	)

	prunedTasks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "genpulse_pruned_tasks_total",
			Help: "Terminal task records removed by retention",
		},
	)
)

func init() {
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(tasksInFlight)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(rateLimited)
	prometheus.MustRegister(pollErrors)
	prometheus.MustRegister(webhookDeliveries)
	prometheus.MustRegister(prunedTasks)
}
