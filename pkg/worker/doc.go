/*
Package worker provides the execution side of the offload scheduler: a handler
registry keyed by task type, isolated execution units and the fixed-size pool
that tracks them.

# Core Components

## Registry

Maps a TaskType to a Handler. Handlers that implement Preparer get a chance to
set up per-unit state when the pool creates a unit; a failing Prepare drops
that slot from the pool.

## Unit

One goroutine that receives a single Assignment at a time and emits exactly one
Outcome for it. A handler panic is recovered and reported as a unit fault
(Outcome.Fault), distinct from a handler error (Outcome.Err). Units keep no
state between tasks.

## Pool

A fixed set of units plus the bookkeeping the dispatcher needs to decide where
the next task goes. The bookkeeping methods are not synchronized and must be
called from one goroutine:

	pool := worker.NewPool(worker.PoolConfig{Size: 4, Registry: reg})
	outcomes := make(chan worker.Outcome)
	pool.Initialize(ctx, outcomes)

	if rec, ok := pool.FindIdle(); ok {
		_ = pool.Assign(rec.ID, worker.Assignment{TaskID: id, Type: "summarize", Payload: p})
	}

	out := <-outcomes
	if out.Fault != nil {
		pool.Recover(out.WorkerID)
	} else {
		pool.Release(out.WorkerID)
	}

If no unit can be created the pool falls back to a single unprepared unit and
Degraded reports true.
*/
package worker
