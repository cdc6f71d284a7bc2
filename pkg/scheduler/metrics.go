package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jzx17/offload/pkg/types"
)

var (
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_tasks_submitted_total",
			Help: "Total number of tasks accepted by the scheduler.",
		},
		[]string{"scheduler", "priority"},
	)

	tasksFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_tasks_finished_total",
			Help: "Total number of tasks that reached a terminal status.",
		},
		[]string{"scheduler", "status"},
	)

	taskRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offload_task_run_seconds",
			Help:    "Time from assignment to a worker until the task result was delivered, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheduler", "type"},
	)

	queueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offload_queue_length",
			Help: "Number of tasks waiting for a worker.",
		},
		[]string{"scheduler"},
	)

	activeWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offload_active_workers",
			Help: "Number of busy execution units.",
		},
		[]string{"scheduler"},
	)

	resultsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offload_results_evicted_total",
			Help: "Total number of terminal records dropped by the result store sweep.",
		},
		[]string{"scheduler"},
	)
)

var terminalStatuses = []types.Status{
	types.StatusCompleted,
	types.StatusFailed,
	types.StatusTimeout,
	types.StatusWorkerError,
	types.StatusCancelled,
}

func init() {
	prometheus.MustRegister(tasksSubmitted)
	prometheus.MustRegister(tasksFinished)
	prometheus.MustRegister(taskRunDuration)
	prometheus.MustRegister(queueLength)
	prometheus.MustRegister(activeWorkers)
	prometheus.MustRegister(resultsEvicted)
}

// initMetrics creates every label combination of a scheduler instance so it
// shows up in /metrics with value 0 from startup
func initMetrics(id string) {
	for _, p := range []types.Priority{types.PriorityNormal, types.PriorityHigh} {
		tasksSubmitted.WithLabelValues(id, p.String())
	}
	for _, st := range terminalStatuses {
		tasksFinished.WithLabelValues(id, string(st))
	}
	queueLength.WithLabelValues(id).Set(0)
	activeWorkers.WithLabelValues(id).Set(0)
	resultsEvicted.WithLabelValues(id)
}

// dropMetrics removes every series of a scheduler instance
func dropMetrics(id string) {
	labels := prometheus.Labels{"scheduler": id}
	tasksSubmitted.DeletePartialMatch(labels)
	tasksFinished.DeletePartialMatch(labels)
	taskRunDuration.DeletePartialMatch(labels)
	queueLength.DeletePartialMatch(labels)
	activeWorkers.DeletePartialMatch(labels)
	resultsEvicted.DeletePartialMatch(labels)
}
