package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jzx17/offload/pkg/types"
)

// UnitState defines the state of an execution unit
type UnitState int32

const (
	// UnitStateIdle represents idle unit state
	UnitStateIdle UnitState = iota
	// UnitStateWorking represents working unit state
	UnitStateWorking
	// UnitStateStopped represents stopped unit state
	UnitStateStopped
)

// String returns the string representation of UnitState
func (s UnitState) String() string {
	switch s {
	case UnitStateIdle:
		return "idle"
	case UnitStateWorking:
		return "working"
	case UnitStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Assignment is the message handed to a unit: one task at a time
type Assignment struct {
	TaskID  string
	Type    TaskType
	Payload any
}

// Outcome is the single message a unit emits per assignment. Exactly one of
// Value/Err/Fault is meaningful: Fault is set when the unit itself failed,
// Err when the handler reported an error.
type Outcome struct {
	WorkerID int
	TaskID   string
	Value    any
	Err      error
	Fault    error
	Duration time.Duration
}

// Unit is an isolated execution unit. It owns one goroutine, receives
// assignments over its inbox and keeps no state between tasks.
type Unit struct {
	id       int
	state    int32 // atomic state
	inbox    chan Assignment
	registry *Registry
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// statistics
	totalProcessed int64
	totalFailed    int64
	totalFaults    int64
	lastTaskTime   int64 // Unix nanosecond timestamp

	clock types.Clock
}

// NewUnit creates an execution unit bound to a handler registry
func NewUnit(id int, registry *Registry, clock types.Clock) *Unit {
	if clock == nil {
		clock = types.NewRealClock()
	}

	return &Unit{
		id:       id,
		state:    int32(UnitStateIdle),
		inbox:    make(chan Assignment, 1),
		registry: registry,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		clock:    clock,
	}
}

// ID returns the unit ID
func (u *Unit) ID() int {
	return u.id
}

// State returns the current unit state
func (u *Unit) State() UnitState {
	return UnitState(atomic.LoadInt32(&u.state))
}

// Assign hands an assignment to the unit without blocking. It returns false
// if the unit already holds an undelivered assignment.
func (u *Unit) Assign(a Assignment) bool {
	select {
	case u.inbox <- a:
		return true
	default:
		return false
	}
}

// Run processes assignments until ctx is done or Stop is called. Outcomes
// are delivered on the shared outcomes channel.
func (u *Unit) Run(ctx context.Context, outcomes chan<- Outcome) {
	defer close(u.done)
	defer atomic.StoreInt32(&u.state, int32(UnitStateStopped))

	for {
		select {
		case <-ctx.Done():
			return
		case <-u.quit:
			return
		case a := <-u.inbox:
			out := u.process(ctx, a)
			select {
			case outcomes <- out:
			case <-ctx.Done():
				return
			case <-u.quit:
				return
			}
		}
	}
}

// process runs one assignment and builds its outcome
func (u *Unit) process(ctx context.Context, a Assignment) Outcome {
	atomic.StoreInt32(&u.state, int32(UnitStateWorking))
	defer atomic.StoreInt32(&u.state, int32(UnitStateIdle))

	startTime := u.clock.Now()
	atomic.StoreInt64(&u.lastTaskTime, startTime.UnixNano())

	value, err, fault := u.execute(ctx, a)

	switch {
	case fault != nil:
		atomic.AddInt64(&u.totalFaults, 1)
	case err != nil:
		atomic.AddInt64(&u.totalFailed, 1)
	default:
		atomic.AddInt64(&u.totalProcessed, 1)
	}

	return Outcome{
		WorkerID: u.id,
		TaskID:   a.TaskID,
		Value:    value,
		Err:      err,
		Fault:    fault,
		Duration: u.clock.Since(startTime),
	}
}

// execute resolves the handler and runs it. A panic escaping the handler is
// a unit-level fault, not a handler error.
func (u *Unit) execute(ctx context.Context, a Assignment) (value any, err error, fault error) {
	defer func() {
		if r := recover(); r != nil {
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)

			var cause error
			switch v := r.(type) {
			case error:
				cause = fmt.Errorf("panic: %w", v)
			default:
				cause = fmt.Errorf("panic: %v", v)
			}

			fault = types.NewTaskError(a.TaskID, types.KindWorker, cause).
				WithContext("stack_trace", string(buf[:n])).
				WithContext("worker_id", u.id)
			value, err = nil, nil
		}
	}()

	if u.registry == nil {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownTaskType, a.Type), nil
	}

	h, err := u.registry.Resolve(a.Type)
	if err != nil {
		return nil, err, nil
	}

	value, err = h.Handle(ctx, a.Payload)
	return value, err, nil
}

// Stop stops the unit and waits for its goroutine to exit. A handler that is
// still running keeps the goroutine alive until it returns or ctx ends.
func (u *Unit) Stop(ctx context.Context) error {
	u.stopOnce.Do(func() { close(u.quit) })

	select {
	case <-u.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %d stop: %w", u.id, ctx.Err())
	}
}

// Done is closed when the unit goroutine has exited
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Stats gets unit statistics
func (u *Unit) Stats() UnitStats {
	var last time.Time
	if ns := atomic.LoadInt64(&u.lastTaskTime); ns != 0 {
		last = time.Unix(0, ns)
	}
	return UnitStats{
		ID:             u.id,
		State:          u.State(),
		TotalProcessed: atomic.LoadInt64(&u.totalProcessed),
		TotalFailed:    atomic.LoadInt64(&u.totalFailed),
		TotalFaults:    atomic.LoadInt64(&u.totalFaults),
		LastTaskTime:   last,
	}
}

// UnitStats defines unit statistics as seen from inside the unit
type UnitStats struct {
	ID             int
	State          UnitState
	TotalProcessed int64
	TotalFailed    int64
	TotalFaults    int64
	LastTaskTime   time.Time
}

// GetSuccessRate gets the success rate
func (s UnitStats) GetSuccessRate() float64 {
	total := s.TotalProcessed + s.TotalFailed + s.TotalFaults
	if total == 0 {
		return 0
	}
	return float64(s.TotalProcessed) / float64(total)
}
