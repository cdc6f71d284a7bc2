package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jzx17/offload/pkg/types"
)

// TaskType tags a task with the handler that processes it
type TaskType string

// Built-in task types. Handlers for them are supplied by the host, see
// package handlers for reference implementations.
const (
	TypeSummarize        TaskType = "summarize"
	TypeSemanticAnalysis TaskType = "semantic-analysis"
	TypeContextOptimize  TaskType = "context-optimize"
	TypeIndex            TaskType = "index"
	TypeMigrate          TaskType = "migrate"
	TypeTransform        TaskType = "transform"
)

var builtinTypes = map[TaskType]bool{
	TypeSummarize:        true,
	TypeSemanticAnalysis: true,
	TypeContextOptimize:  true,
	TypeIndex:            true,
	TypeMigrate:          true,
	TypeTransform:        true,
}

// Builtin reports whether t is one of the predefined task types
func (t TaskType) Builtin() bool {
	return builtinTypes[t]
}

// Handler processes the payload of one task
type Handler interface {
	Handle(ctx context.Context, payload any) (any, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, payload any) (any, error)

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, payload any) (any, error) {
	return f(ctx, payload)
}

// Preparer is implemented by handlers that need per-unit setup. Prepare runs
// once for every execution unit created by the pool; an error makes that unit
// unusable.
type Preparer interface {
	Prepare(workerID int) error
}

// Registry maps task types to handlers. It is read concurrently by every
// execution unit.
type Registry struct {
	mu       sync.RWMutex
	handlers map[TaskType]Handler
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[TaskType]Handler),
	}
}

// Register adds a handler under the given type
func (r *Registry) Register(t TaskType, h Handler) error {
	if t == "" {
		return fmt.Errorf("%w: empty task type", types.ErrInvalidTask)
	}
	if h == nil {
		return fmt.Errorf("cannot register nil handler for %q", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("handler for task type %q already registered", t)
	}
	r.handlers[t] = h
	return nil
}

// RegisterFunc registers a function as a handler
func (r *Registry) RegisterFunc(t TaskType, fn func(ctx context.Context, payload any) (any, error)) error {
	if fn == nil {
		return fmt.Errorf("cannot register nil handler for %q", t)
	}
	return r.Register(t, HandlerFunc(fn))
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(t TaskType, h Handler) {
	if err := r.Register(t, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for t
func (r *Registry) Resolve(t TaskType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownTaskType, t)
	}
	return h, nil
}

// Has reports whether a handler is registered for t
func (r *Registry) Has(t TaskType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[t]
	return ok
}

// Types lists registered task types, sorted
func (r *Registry) Types() []TaskType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TaskType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Prepare runs per-unit setup for every handler implementing Preparer
func (r *Registry) Prepare(workerID int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for t, h := range r.handlers {
		p, ok := h.(Preparer)
		if !ok {
			continue
		}
		if err := p.Prepare(workerID); err != nil {
			return fmt.Errorf("prepare %q on worker %d: %w", t, workerID, err)
		}
	}
	return nil
}
