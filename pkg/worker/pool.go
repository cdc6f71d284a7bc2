package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/jzx17/offload/pkg/types"
)

// MaxPoolSize caps the default pool size regardless of hardware concurrency
const MaxPoolSize = 4

// DefaultPoolSize returns the number of CPUs capped at limit (MaxPoolSize if
// limit is not positive)
func DefaultPoolSize(limit int) int {
	if limit <= 0 {
		limit = MaxPoolSize
	}
	return max(1, min(runtime.NumCPU(), limit))
}

// UnitFactory builds the execution unit for one pool slot
type UnitFactory func(id int) (*Unit, error)

// PoolConfig defines configuration for the worker pool
type PoolConfig struct {
	// Size is the requested number of units
	Size int

	// Registry resolves task handlers inside every unit
	Registry *Registry

	// Factory overrides unit creation (optional, defaults to NewUnit followed
	// by Registry.Prepare)
	Factory UnitFactory

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Logger receives degradation warnings (optional)
	Logger *slog.Logger
}

// Record is the dispatcher's view of one pool slot
type Record struct {
	ID             int
	Busy           bool
	TaskID         string
	TasksCompleted int64
	Faults         int64
	LastUsed       time.Time

	unit *Unit
}

// Pool is a fixed-size set of execution units. Slot bookkeeping (Assign,
// Release, Recover, FindIdle) is not synchronized: it belongs to the single
// dispatching goroutine. Stop may be called from anywhere.
type Pool struct {
	config   PoolConfig
	records  []*Record
	byID     map[int]*Record
	degraded bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// NewPool creates an uninitialized pool
func NewPool(config PoolConfig) *Pool {
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.Size <= 0 {
		config.Size = DefaultPoolSize(MaxPoolSize)
	}
	if config.Factory == nil {
		config.Factory = defaultFactory(config.Registry, config.Clock)
	}

	return &Pool{
		config: config,
		byID:   make(map[int]*Record),
	}
}

func defaultFactory(registry *Registry, clock types.Clock) UnitFactory {
	return func(id int) (*Unit, error) {
		if registry != nil {
			if err := registry.Prepare(id); err != nil {
				return nil, err
			}
		}
		return NewUnit(id, registry, clock), nil
	}
}

// Initialize creates and starts the units. Slots whose unit cannot be created
// are dropped; if none can be created a single unprepared fallback unit is
// started and the pool reports Degraded. It returns the effective size.
func (p *Pool) Initialize(ctx context.Context, outcomes chan<- Outcome) int {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.config.Size; i++ {
		unit, err := p.config.Factory(i)
		if err == nil && unit == nil {
			err = errors.New("factory returned no unit")
		}
		if err != nil {
			p.config.Logger.Warn("failed to create execution unit, pool degrades",
				"worker_id", i,
				"requested_size", p.config.Size,
				"error", err)
			continue
		}
		p.add(runCtx, unit, outcomes)
	}

	if len(p.records) == 0 {
		p.degraded = true
		p.config.Logger.Error("no execution unit could be created, running with a single fallback unit",
			"requested_size", p.config.Size)
		p.add(runCtx, NewUnit(0, p.config.Registry, p.config.Clock), outcomes)
	} else if len(p.records) < p.config.Size {
		p.degraded = true
	}

	return len(p.records)
}

func (p *Pool) add(ctx context.Context, unit *Unit, outcomes chan<- Outcome) {
	rec := &Record{ID: unit.ID(), unit: unit}
	p.records = append(p.records, rec)
	p.byID[rec.ID] = rec

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		unit.Run(ctx, outcomes)
	}()
}

// Size returns the effective pool size
func (p *Pool) Size() int {
	return len(p.records)
}

// RequestedSize returns the size the pool was configured with
func (p *Pool) RequestedSize() int {
	return p.config.Size
}

// Degraded reports whether fewer units than requested are running
func (p *Pool) Degraded() bool {
	return p.degraded
}

// FindIdle returns an idle slot, lowest id first
func (p *Pool) FindIdle() (Record, bool) {
	for _, rec := range p.records {
		if !rec.Busy {
			return *rec, true
		}
	}
	return Record{}, false
}

// Busy returns the number of busy slots
func (p *Pool) Busy() int {
	n := 0
	for _, rec := range p.records {
		if rec.Busy {
			n++
		}
	}
	return n
}

// Assign attaches a task to an idle slot and hands it to the slot's unit
func (p *Pool) Assign(workerID int, a Assignment) error {
	rec, ok := p.byID[workerID]
	if !ok {
		return fmt.Errorf("unknown worker %d", workerID)
	}
	if rec.Busy {
		return fmt.Errorf("worker %d is busy with task %s", workerID, rec.TaskID)
	}
	if !rec.unit.Assign(a) {
		return fmt.Errorf("worker %d inbox is full", workerID)
	}

	rec.Busy = true
	rec.TaskID = a.TaskID
	return nil
}

// Release marks a slot idle after a delivered result and returns the task
// that was attached to it
func (p *Pool) Release(workerID int) (string, bool) {
	rec, ok := p.byID[workerID]
	if !ok || !rec.Busy {
		return "", false
	}

	taskID := rec.TaskID
	rec.Busy = false
	rec.TaskID = ""
	rec.TasksCompleted++
	rec.LastUsed = p.config.Clock.Now()
	return taskID, true
}

// Recover returns a faulted slot to the idle set without counting a
// completion. It returns every task id that was attached to the slot.
func (p *Pool) Recover(workerID int) []string {
	rec, ok := p.byID[workerID]
	if !ok {
		return nil
	}

	var attached []string
	if rec.TaskID != "" {
		attached = append(attached, rec.TaskID)
	}
	rec.Busy = false
	rec.TaskID = ""
	rec.Faults++
	rec.LastUsed = p.config.Clock.Now()
	return attached
}

// Stats returns a snapshot of every slot
func (p *Pool) Stats() []types.WorkerStats {
	stats := make([]types.WorkerStats, len(p.records))
	for i, rec := range p.records {
		stats[i] = types.WorkerStats{
			ID:             rec.ID,
			Busy:           rec.Busy,
			TaskID:         rec.TaskID,
			TasksCompleted: rec.TasksCompleted,
			Faults:         rec.Faults,
			LastUsed:       rec.LastUsed,
		}
	}
	return stats
}

// UnitStats returns statistics reported by the units themselves
func (p *Pool) UnitStats() []UnitStats {
	stats := make([]UnitStats, len(p.records))
	for i, rec := range p.records {
		stats[i] = rec.unit.Stats()
	}
	return stats
}

// Stop cancels every unit and waits for their goroutines to exit
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			p.stopErr = fmt.Errorf("timeout waiting for workers to stop: %w", ctx.Err())
		}
	})
	return p.stopErr
}
