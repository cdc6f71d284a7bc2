package scheduler

import (
	"time"

	"github.com/jzx17/offload/pkg/types"
)

// Statistics is a point-in-time snapshot of the scheduler
type Statistics struct {
	SchedulerID string `json:"scheduler_id"`

	PoolSize          int  `json:"pool_size"`
	RequestedPoolSize int  `json:"requested_pool_size"`
	Degraded          bool `json:"degraded"`
	ActiveWorkers     int  `json:"active_workers"`

	QueueLength  int `json:"queue_length"`
	HighPriority int `json:"high_priority_queued"`
	ActiveTasks  int `json:"active_tasks"`

	TotalSubmitted int64 `json:"total_submitted"`

	// TotalProcessed is Completed plus Failed; cancelled tasks are not counted
	TotalProcessed int64 `json:"total_processed"`
	Completed      int64 `json:"completed"`

	// Failed is HandlerErrors plus TimedOut plus WorkerErrors
	Failed        int64 `json:"failed"`
	HandlerErrors int64 `json:"handler_errors"`
	TimedOut      int64 `json:"timed_out"`
	WorkerErrors  int64 `json:"worker_errors"`
	Cancelled     int64 `json:"cancelled"`

	// SuccessRate is Completed / TotalProcessed, 0 when nothing was processed
	SuccessRate float64 `json:"success_rate"`

	StoredResults  int   `json:"stored_results"`
	EvictedResults int64 `json:"evicted_results"`

	AverageQueueWait time.Duration `json:"average_queue_wait"`
	MaxQueueWait     time.Duration `json:"max_queue_wait"`

	Uptime  time.Duration       `json:"uptime"`
	Workers []types.WorkerStats `json:"workers"`
}

// Statistics returns a snapshot of pool, queue and task counters
func (s *Scheduler) Statistics() (Statistics, error) {
	var st Statistics
	if err := s.exec(func() { st = s.snapshot() }); err != nil {
		return Statistics{}, err
	}
	return st, nil
}

func (s *Scheduler) snapshot() Statistics {
	qs := s.queue.Stats()
	c := s.counters

	return Statistics{
		SchedulerID:       s.id,
		PoolSize:          s.pool.Size(),
		RequestedPoolSize: s.pool.RequestedSize(),
		Degraded:          s.pool.Degraded(),
		ActiveWorkers:     s.pool.Busy(),
		QueueLength:       qs.Length,
		HighPriority:      qs.HighPriority,
		ActiveTasks:       len(s.inflight),
		TotalSubmitted:    c.submitted,
		TotalProcessed:    c.processed(),
		Completed:         c.completed,
		Failed:            c.failed(),
		HandlerErrors:     c.handlerErrors,
		TimedOut:          c.timedOut,
		WorkerErrors:      c.workerErrors,
		Cancelled:         c.cancelled,
		SuccessRate:       c.successRate(),
		StoredResults:     s.store.Len(),
		EvictedResults:    s.store.Evicted(),
		AverageQueueWait:  qs.AverageWait,
		MaxQueueWait:      qs.MaxWait,
		Uptime:            s.clock.Since(s.started),
		Workers:           s.pool.Stats(),
	}
}
