package scheduler

import (
	"context"

	"github.com/jzx17/offload/pkg/types"
)

// Pending is the completion handle of a submitted task. It resolves exactly
// once: on completion, handler error, timeout, worker fault, cancellation or
// scheduler shutdown.
type Pending struct {
	s *Scheduler
	e *entry
}

// ID returns the task id
func (p *Pending) ID() string {
	return p.e.desc.ID
}

// Descriptor returns the submitted task descriptor
func (p *Pending) Descriptor() types.Descriptor {
	return p.e.desc
}

// Done is closed once the task reached a terminal status
func (p *Pending) Done() <-chan struct{} {
	return p.e.done
}

// Record returns the terminal record without blocking
func (p *Pending) Record() (types.Record, bool) {
	select {
	case <-p.e.done:
		return p.e.record, true
	default:
		return types.Record{}, false
	}
}

// Wait blocks until the task finishes. If ctx ends first the task is
// cancelled and Wait returns whatever terminal outcome won.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.e.done:
	case <-ctx.Done():
		p.s.cancelWithCause(p.e.desc.ID, ctx.Err())
		<-p.e.done
	}

	rec := p.e.record
	if rec.Status == types.StatusCompleted {
		return rec.Value, nil
	}
	return nil, rec.Err
}
