/*
Package scheduler offloads CPU-bound, latency-tolerant work onto a small,
fixed pool of execution units.

# Overview

A Scheduler combines:
  - a worker.Pool of execution units, sized at construction
  - a two-level TaskQueue: high priority tasks are inserted at the head,
    normal ones appended at the tail
  - a dispatcher that hands the queue head to an idle unit whenever a task is
    queued or a unit becomes free
  - per-task timeouts armed on the scheduler Clock
  - non-preemptive cancellation
  - a ResultStore of terminal records, trimmed by a periodic sweep

The number of active tasks never exceeds the pool size. Callers are never
throttled; a warning is logged when the queue grows past a threshold.

# Ordering

Within a priority class tasks start in submission order, with one exception
kept on purpose: because high priority tasks are inserted at the head, the
most recently queued high priority task starts before earlier ones.

# Outcomes

Every task settles exactly once with one of:

	completed     handler returned a value
	failed        handler returned an error, or no handler is registered
	timeout       no result before the deadline; a late result is discarded
	worker-error  the execution unit faulted (handler panic)
	cancelled     Cancel, an abandoned Wait, or Shutdown

Failures are reported as *types.TaskError and match types.ErrHandler,
types.ErrTimeout, types.ErrWorkerFault or types.ErrCancelled with errors.Is.
The scheduler never retries on its own; see SubmitWithRetry.

# Usage

	reg := worker.NewRegistry()
	handlers.RegisterBuiltins(reg)

	sched, err := scheduler.New(&scheduler.Config{Registry: reg, Logger: logger})
	if err != nil {
		return err
	}
	defer sched.Shutdown(context.Background())

	summary, err := sched.Submit(ctx, worker.TypeSummarize, doc,
		scheduler.WithPriority(types.PriorityHigh),
		scheduler.WithTimeout(5*time.Second))

	report := sched.SubmitBatch(ctx, []scheduler.Request{
		{Type: worker.TypeIndex, Payload: a},
		{Type: worker.TypeIndex, Payload: b},
	})
*/
package scheduler
