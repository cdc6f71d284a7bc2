package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

// Default scheduler settings
const (
	DefaultTimeout                  = 30 * time.Second
	DefaultCleanupInterval          = time.Minute
	DefaultResultHighWater          = 1000
	DefaultResultLowWater           = 500
	DefaultQueueWarnThreshold       = 50
	DefaultSuccessRateWarnThreshold = 0.8
	DefaultHealthMinProcessed       = 10
)

// Config defines configuration for the scheduler
type Config struct {
	// PoolSize is the requested number of execution units. Zero picks the
	// number of CPUs capped at MaxPoolSize.
	PoolSize int

	// MaxPoolSize caps PoolSize
	MaxPoolSize int

	// DefaultTimeout applies to tasks submitted without WithTimeout
	DefaultTimeout time.Duration

	// CleanupInterval is the period of the result store sweep and health check
	CleanupInterval time.Duration

	// ResultHighWater triggers a sweep, ResultLowWater is what it keeps
	ResultHighWater int
	ResultLowWater  int

	// QueueWarnThreshold is the queue length above which a warning is logged
	QueueWarnThreshold int

	// SuccessRateWarnThreshold is the success rate below which the health
	// check warns, once HealthMinProcessed tasks have been processed
	SuccessRateWarnThreshold float64
	HealthMinProcessed       int64

	// Registry resolves task types to handlers
	Registry *worker.Registry

	// UnitFactory overrides execution unit creation (optional)
	UnitFactory worker.UnitFactory

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger for scheduler events (optional, defaults to discarding)
	Logger *slog.Logger
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		MaxPoolSize:              worker.MaxPoolSize,
		DefaultTimeout:           DefaultTimeout,
		CleanupInterval:          DefaultCleanupInterval,
		ResultHighWater:          DefaultResultHighWater,
		ResultLowWater:           DefaultResultLowWater,
		QueueWarnThreshold:       DefaultQueueWarnThreshold,
		SuccessRateWarnThreshold: DefaultSuccessRateWarnThreshold,
		HealthMinProcessed:       DefaultHealthMinProcessed,
	}
}

// withDefaults returns a copy with every zero field set to its default
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = d.MaxPoolSize
	}
	if c.PoolSize <= 0 {
		c.PoolSize = worker.DefaultPoolSize(c.MaxPoolSize)
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.ResultHighWater <= 0 {
		c.ResultHighWater = d.ResultHighWater
	}
	if c.ResultLowWater <= 0 {
		c.ResultLowWater = min(d.ResultLowWater, c.ResultHighWater)
	}
	if c.QueueWarnThreshold <= 0 {
		c.QueueWarnThreshold = d.QueueWarnThreshold
	}
	if c.SuccessRateWarnThreshold <= 0 {
		c.SuccessRateWarnThreshold = d.SuccessRateWarnThreshold
	}
	if c.HealthMinProcessed <= 0 {
		c.HealthMinProcessed = d.HealthMinProcessed
	}
	if c.Registry == nil {
		c.Registry = worker.NewRegistry()
	}
	if c.Clock == nil {
		c.Clock = types.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

func (c Config) validate() error {
	if c.ResultLowWater > c.ResultHighWater {
		return fmt.Errorf("result low water (%d) must not exceed high water (%d)", c.ResultLowWater, c.ResultHighWater)
	}
	if c.SuccessRateWarnThreshold > 1 {
		return fmt.Errorf("success rate warn threshold must be in (0, 1], got %v", c.SuccessRateWarnThreshold)
	}
	return nil
}

// entry is the lifecycle state of a task that has not reached a terminal
// status yet, and the completion handle its caller waits on
type entry struct {
	desc       types.Descriptor
	status     types.Status
	workerID   int
	assignedAt time.Time
	timer      types.Timer

	done   chan struct{}
	record types.Record // valid once done is closed
}

// counters are the terminal status totals
type counters struct {
	submitted     int64
	completed     int64
	handlerErrors int64
	timedOut      int64
	workerErrors  int64
	cancelled     int64
}

func (c *counters) failed() int64 {
	return c.handlerErrors + c.timedOut + c.workerErrors
}

func (c *counters) processed() int64 {
	return c.completed + c.failed()
}

func (c *counters) successRate() float64 {
	processed := c.processed()
	if processed == 0 {
		return 0
	}
	return float64(c.completed) / float64(processed)
}

// Scheduler offloads tasks onto a fixed pool of execution units.
//
// A single goroutine owns the queue, the in-flight map, the lifecycle entries,
// the pool bookkeeping and the result store. Public methods hand closures to
// that goroutine and wait for them, so none of that state is locked.
type Scheduler struct {
	id     string
	config Config
	clock  types.Clock
	log    *slog.Logger

	pool    *worker.Pool
	queue   *TaskQueue
	store   *ResultStore
	ticker  types.Ticker
	started time.Time

	entries  map[string]*entry // queued and active tasks
	inflight map[string]*entry // active tasks by id
	counters counters

	queueWarn rate.Sometimes

	ops      chan func()
	outcomes chan worker.Outcome
	quit     chan struct{}
	stopped  chan struct{}
	quitOnce sync.Once
}

// New creates a scheduler and starts its execution units. A nil config uses
// DefaultConfig. The pool degrades instead of failing when units cannot be
// created.
func New(config *Config) (*Scheduler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}

	id := uuid.NewString()
	log := cfg.Logger.With("scheduler_id", id)

	if cfg.PoolSize > cfg.MaxPoolSize {
		log.Warn("requested pool size exceeds maximum, capping",
			"pool_size", cfg.PoolSize,
			"max_pool_size", cfg.MaxPoolSize)
		cfg.PoolSize = cfg.MaxPoolSize
	}

	s := &Scheduler{
		id:        id,
		config:    cfg,
		clock:     cfg.Clock,
		log:       log,
		queue:     NewTaskQueue(cfg.Clock),
		store:     NewResultStore(),
		started:   cfg.Clock.Now(),
		entries:   make(map[string]*entry),
		inflight:  make(map[string]*entry),
		queueWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		ops:       make(chan func()),
		outcomes:  make(chan worker.Outcome),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	s.pool = worker.NewPool(worker.PoolConfig{
		Size:     cfg.PoolSize,
		Registry: cfg.Registry,
		Factory:  cfg.UnitFactory,
		Clock:    cfg.Clock,
		Logger:   log,
	})
	size := s.pool.Initialize(context.Background(), s.outcomes)

	s.ticker = cfg.Clock.NewTicker(cfg.CleanupInterval)
	initMetrics(id)

	go s.run()

	log.Info("scheduler started",
		"pool_size", size,
		"requested_pool_size", cfg.PoolSize,
		"degraded", s.pool.Degraded(),
		"default_timeout", cfg.DefaultTimeout)

	return s, nil
}

// ID returns the scheduler instance id
func (s *Scheduler) ID() string {
	return s.id
}

// run is the dispatcher loop
func (s *Scheduler) run() {
	defer close(s.stopped)
	defer s.ticker.Stop()

	for {
		select {
		case fn := <-s.ops:
			fn()
		case out := <-s.outcomes:
			s.handleOutcome(out)
		case <-s.ticker.C():
			s.cleanup()
		case <-s.quit:
			s.drain()
			dropMetrics(s.id)
			s.log.Info("scheduler stopped",
				"total_processed", s.counters.processed(),
				"cancelled", s.counters.cancelled)
			return
		}
	}
}

// exec runs fn on the dispatcher loop and waits for it
func (s *Scheduler) exec(fn func()) error {
	done := make(chan struct{})
	select {
	case s.ops <- func() { defer close(done); fn() }:
	case <-s.quit:
		return types.ErrSchedulerClosed
	}
	<-done
	return nil
}

// post hands fn to the dispatcher loop without waiting for it to run
func (s *Scheduler) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.quit:
	}
}

// Option configures a single submission
type Option func(*submitOptions)

type submitOptions struct {
	priority types.Priority
	timeout  time.Duration
}

// WithPriority sets the queue class of the task
func WithPriority(p types.Priority) Option {
	return func(o *submitOptions) {
		o.priority = p
	}
}

// WithTimeout sets the task deadline, measured from submission. Non-positive
// values keep the scheduler default.
func WithTimeout(d time.Duration) Option {
	return func(o *submitOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Enqueue submits a task and returns its completion handle without waiting
// for the result
func (s *Scheduler) Enqueue(ctx context.Context, taskType worker.TaskType, payload any, opts ...Option) (*Pending, error) {
	if taskType == "" {
		return nil, fmt.Errorf("%w: empty task type", types.ErrInvalidTask)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := submitOptions{priority: types.PriorityNormal, timeout: s.config.DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.priority != types.PriorityNormal && o.priority != types.PriorityHigh {
		return nil, fmt.Errorf("%w: unknown priority %d", types.ErrInvalidTask, o.priority)
	}

	e := &entry{
		desc: types.Descriptor{
			ID:        ulid.Make().String(),
			Type:      string(taskType),
			Payload:   payload,
			Priority:  o.priority,
			Timeout:   o.timeout,
			CreatedAt: s.clock.Now(),
		},
		status:   types.StatusQueued,
		workerID: -1,
		done:     make(chan struct{}),
	}

	if err := s.exec(func() { s.accept(e) }); err != nil {
		return nil, err
	}
	return &Pending{s: s, e: e}, nil
}

// Submit submits a task and waits for its outcome. If ctx ends first the
// task is cancelled.
func (s *Scheduler) Submit(ctx context.Context, taskType worker.TaskType, payload any, opts ...Option) (any, error) {
	p, err := s.Enqueue(ctx, taskType, payload, opts...)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Cancel withdraws a queued or active task. An active task keeps running on
// its worker; its result is discarded. It returns false for unknown or
// already finished tasks.
func (s *Scheduler) Cancel(id string) bool {
	return s.cancelWithCause(id, nil)
}

func (s *Scheduler) cancelWithCause(id string, cause error) bool {
	var cancelled bool
	if err := s.exec(func() { cancelled = s.cancelTask(id, cause) }); err != nil {
		return false
	}
	return cancelled
}

// GetResult returns the terminal record of a task. Unknown, unfinished and
// evicted tasks report false.
func (s *Scheduler) GetResult(id string) (types.Record, bool) {
	var (
		rec types.Record
		ok  bool
	)
	if err := s.exec(func() { rec, ok = s.store.Get(id) }); err != nil {
		return types.Record{}, false
	}
	return rec, ok
}

// State returns the current lifecycle status of a task
func (s *Scheduler) State(id string) (types.Status, bool) {
	var (
		st types.Status
		ok bool
	)
	err := s.exec(func() {
		if e, found := s.entries[id]; found {
			st, ok = e.status, true
			return
		}
		if rec, found := s.store.Get(id); found {
			st, ok = rec.Status, true
		}
	})
	if err != nil {
		return "", false
	}
	return st, ok
}

// Shutdown rejects every queued and active task with ErrSchedulerClosed,
// stops all timers and stops the execution units
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })

	select {
	case <-s.stopped:
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}

	if err := s.pool.Stop(ctx); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

// accept registers a new task, arms its timer and dispatches
func (s *Scheduler) accept(e *entry) {
	id := e.desc.ID
	s.entries[id] = e
	s.queue.Enqueue(e.desc)
	s.counters.submitted++
	tasksSubmitted.WithLabelValues(s.id, e.desc.Priority.String()).Inc()

	e.timer = s.clock.AfterFunc(e.desc.Timeout, func() {
		s.post(func() { s.expire(id) })
	})

	s.log.Debug("task queued",
		"task_id", id,
		"task_type", e.desc.Type,
		"priority", e.desc.Priority.String(),
		"timeout", e.desc.Timeout,
		"queue_len", s.queue.Len())

	s.dispatch()

	if n := s.queue.Len(); n > s.config.QueueWarnThreshold {
		s.queueWarn.Do(func() {
			s.log.Warn("task queue above threshold",
				"queue_len", n,
				"threshold", s.config.QueueWarnThreshold,
				"busy_workers", s.pool.Busy(),
				"pool_size", s.pool.Size())
		})
	}
}

// dispatch matches queued tasks to idle workers until one side runs out
func (s *Scheduler) dispatch() {
	defer s.updateGauges()

	for s.queue.Len() > 0 {
		rec, ok := s.pool.FindIdle()
		if !ok {
			return
		}

		desc, _ := s.queue.Peek()
		err := s.pool.Assign(rec.ID, worker.Assignment{
			TaskID:  desc.ID,
			Type:    worker.TaskType(desc.Type),
			Payload: desc.Payload,
		})
		if err != nil {
			s.log.Error("failed to hand task to worker",
				"task_id", desc.ID,
				"worker_id", rec.ID,
				"error", err)
			return
		}
		s.queue.Dequeue()

		e := s.entries[desc.ID]
		e.status = types.StatusActive
		e.workerID = rec.ID
		e.assignedAt = s.clock.Now()
		s.inflight[desc.ID] = e

		s.log.Debug("task assigned",
			"task_id", desc.ID,
			"task_type", desc.Type,
			"worker_id", rec.ID)
	}
}

// handleOutcome applies a unit outcome and frees its worker
func (s *Scheduler) handleOutcome(out worker.Outcome) {
	defer s.dispatch()

	if out.Fault != nil {
		attached := s.pool.Recover(out.WorkerID)
		s.log.Warn("execution unit faulted, recovered to idle",
			"worker_id", out.WorkerID,
			"task_id", out.TaskID,
			"attached_tasks", len(attached),
			"error", out.Fault)

		for _, id := range attached {
			e, ok := s.inflight[id]
			if !ok {
				s.log.Debug("discarding fault for finished task", "task_id", id, "worker_id", out.WorkerID)
				continue
			}
			s.resolve(e, nil, faultError(id, out.Fault))
		}
		return
	}

	s.pool.Release(out.WorkerID)

	e, ok := s.inflight[out.TaskID]
	if !ok {
		s.log.Debug("discarding late result",
			"task_id", out.TaskID,
			"worker_id", out.WorkerID,
			"duration", out.Duration)
		return
	}

	taskRunDuration.WithLabelValues(s.id, e.desc.Type).Observe(out.Duration.Seconds())

	if out.Err != nil {
		s.resolve(e, nil, types.NewTaskError(out.TaskID, types.KindHandler, out.Err).
			WithContext("worker_id", out.WorkerID))
		return
	}
	s.resolve(e, out.Value, nil)
}

// faultError reuses the unit's fault for the task it was running, and wraps
// it for any other attached task
func faultError(taskID string, fault error) error {
	var te *types.TaskError
	if errors.As(fault, &te) && te.TaskID == taskID && te.Kind == types.KindWorker {
		return te
	}
	return types.NewTaskError(taskID, types.KindWorker, fault)
}

// expire is the timeout supervisor; it is a no-op for finished tasks
func (s *Scheduler) expire(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}

	err := types.NewTaskError(id, types.KindTimeout, fmt.Errorf("no result within %s", e.desc.Timeout))
	if e.status == types.StatusActive {
		err.WithContext("worker_id", e.workerID)
	}

	s.log.Warn("task timed out",
		"task_id", id,
		"task_type", e.desc.Type,
		"status", e.status,
		"timeout", e.desc.Timeout)

	s.withdraw(e)
	s.resolve(e, nil, err)
	s.updateGauges()
}

// cancelTask withdraws a task that has not finished
func (s *Scheduler) cancelTask(id string, cause error) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}

	s.log.Debug("task cancelled", "task_id", id, "status", e.status)

	s.withdraw(e)
	s.resolve(e, nil, types.NewTaskError(id, types.KindCancelled, cause))
	s.updateGauges()
	return true
}

// withdraw removes a queued task from the queue. An active task stays
// attached to its worker until the worker reports back.
func (s *Scheduler) withdraw(e *entry) {
	if e.status == types.StatusQueued {
		s.queue.Remove(e.desc.ID)
	}
}

// resolve performs the single terminal transition of a task
func (s *Scheduler) resolve(e *entry, value any, err error) {
	if e.status.Terminal() {
		return
	}

	id := e.desc.ID
	status := types.StatusCompleted
	if err != nil {
		status = types.StatusForKind(types.KindOf(err))
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, id)
	delete(s.inflight, id)

	rec := types.Record{
		TaskID:      id,
		Type:        e.desc.Type,
		Status:      status,
		Value:       value,
		Err:         err,
		WorkerID:    e.workerID,
		CreatedAt:   e.desc.CreatedAt,
		AssignedAt:  e.assignedAt,
		CompletedAt: s.clock.Now(),
	}
	s.store.Put(rec)

	switch status {
	case types.StatusCompleted:
		s.counters.completed++
	case types.StatusFailed:
		s.counters.handlerErrors++
	case types.StatusTimeout:
		s.counters.timedOut++
	case types.StatusWorkerError:
		s.counters.workerErrors++
	case types.StatusCancelled:
		s.counters.cancelled++
	}
	tasksFinished.WithLabelValues(s.id, string(status)).Inc()

	e.status = status
	e.record = rec
	close(e.done)
}

// cleanup is the periodic sweep and health check
func (s *Scheduler) cleanup() {
	if n := s.store.Sweep(s.config.ResultHighWater, s.config.ResultLowWater); n > 0 {
		resultsEvicted.WithLabelValues(s.id).Add(float64(n))
		s.log.Info("result store swept",
			"evicted", n,
			"retained", s.store.Len())
	}

	processed := s.counters.processed()
	if processed < s.config.HealthMinProcessed {
		return
	}
	if sr := s.counters.successRate(); sr < s.config.SuccessRateWarnThreshold {
		s.log.Warn("task success rate below threshold",
			"success_rate", sr,
			"threshold", s.config.SuccessRateWarnThreshold,
			"total_processed", processed,
			"handler_errors", s.counters.handlerErrors,
			"timed_out", s.counters.timedOut,
			"worker_errors", s.counters.workerErrors)
	}
}

// drain rejects every unfinished task on shutdown
func (s *Scheduler) drain() {
	s.queue.Drain()
	for id, e := range s.entries {
		s.resolve(e, nil, types.NewTaskError(id, types.KindCancelled, types.ErrSchedulerClosed))
	}
	s.updateGauges()
}

func (s *Scheduler) updateGauges() {
	queueLength.WithLabelValues(s.id).Set(float64(s.queue.Len()))
	activeWorkers.WithLabelValues(s.id).Set(float64(s.pool.Busy()))
}
