// Package handlers provides reference implementations of the built-in task
// types. Hosts with their own processing register different handlers under
// the same types.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

// RegisterBuiltins registers a handler for every built-in task type
func RegisterBuiltins(reg *worker.Registry) error {
	builtins := map[worker.TaskType]worker.Handler{
		worker.TypeSummarize:        typed(Summarize),
		worker.TypeSemanticAnalysis: typed(Analyze),
		worker.TypeContextOptimize:  typed(OptimizeContext),
		worker.TypeIndex:            typed(BuildIndex),
		worker.TypeMigrate:          typed(Migrate),
		worker.TypeTransform:        typed(Transform),
	}

	for t, h := range builtins {
		if err := reg.Register(t, h); err != nil {
			return fmt.Errorf("register %s: %w", t, err)
		}
	}
	return nil
}

// typed adapts a handler over a concrete request type
func typed[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) worker.HandlerFunc {
	return func(ctx context.Context, payload any) (any, error) {
		req, err := Decode[Req](payload)
		if err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}

// Decode converts a task payload into T. It accepts T, *T, JSON as
// json.RawMessage, []byte or string, and any value that round-trips through
// JSON (such as a decoded map).
func Decode[T any](payload any) (T, error) {
	var zero T

	switch v := payload.(type) {
	case nil:
		return zero, fmt.Errorf("%w: empty payload", types.ErrInvalidTask)
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("%w: nil payload", types.ErrInvalidTask)
		}
		return *v, nil
	case json.RawMessage:
		return unmarshal[T](v)
	case []byte:
		return unmarshal[T](v)
	case string:
		return unmarshal[T]([]byte(v))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return zero, fmt.Errorf("%w: encode payload: %v", types.ErrInvalidTask, err)
	}
	return unmarshal[T](raw)
}

func unmarshal[T any](raw []byte) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: decode payload: %v", types.ErrInvalidTask, err)
	}
	return out, nil
}
