package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/jzx17/offload/pkg/types"
)

// Executor runs a function until it succeeds or its policy gives up
type Executor struct {
	policy RetryPolicy
	clock  types.Clock
	logger *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// ExecuteFunc is the function type to retry
type ExecuteFunc[T any] func(ctx context.Context) (T, error)

// Stats contains retry statistics
type Stats struct {
	TotalAttempts   int64         // total attempt count
	TotalRetries    int64         // operations that needed more than one attempt
	TotalSuccesses  int64         // total success count
	TotalFailures   int64         // total failure count
	AverageAttempts float64       // average attempt count
	LastRetryTime   time.Time     // last retry time
	TotalRetryDelay time.Duration // total retry delay time
}

// ExecutorOption is a configuration option for the executor
type ExecutorOption func(*Executor)

// WithClock sets the clock for time operations
func WithClock(clock types.Clock) ExecutorOption {
	return func(r *Executor) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithLogger sets the logger that receives retry events
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(r *Executor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewExecutor creates a retry executor
func NewExecutor(policy RetryPolicy, opts ...ExecutorOption) *Executor {
	if policy == nil {
		policy = NewFixedDelayRetry(1, 0)
	}

	executor := &Executor{
		policy: policy,
		clock:  types.NewRealClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute calls fn until it succeeds, the policy gives up or ctx ends. name
// identifies the operation in log events.
func Execute[T any](r *Executor, ctx context.Context, name string, fn ExecuteFunc[T]) (T, error) {
	var zero T
	log := r.logger.With("operation", name)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			r.finish(false, attempt-1)
			return zero, err
		}

		r.update(func(s *Stats) { s.TotalAttempts++ })

		start := r.clock.Now()
		result, err := fn(ctx)
		if err == nil {
			r.finish(true, attempt)
			if attempt > 1 {
				log.Info("retry succeeded",
					"attempt", attempt,
					"duration", r.clock.Since(start))
			}
			return result, nil
		}

		if !r.policy.ShouldRetry(err, attempt) {
			r.finish(false, attempt)
			if attempt >= r.policy.MaxAttempts() {
				log.Warn("max retry attempts reached", "attempt", attempt, "error", err)
			} else {
				log.Debug("error is not retryable", "attempt", attempt, "error", err)
			}
			return zero, r.wrapError(err, attempt)
		}

		delay := r.policy.NextDelay(attempt)
		r.update(func(s *Stats) {
			s.LastRetryTime = r.clock.Now()
			s.TotalRetryDelay += delay
		})
		log.Debug("retrying", "attempt", attempt, "delay", delay, "error", err)

		if delay > 0 {
			select {
			case <-ctx.Done():
				r.finish(false, attempt)
				return zero, ctx.Err()
			case <-r.clock.After(delay):
			}
		}
	}
}

// Stats returns a copy of the retry statistics
func (r *Executor) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// ResetStats resets statistics
func (r *Executor) ResetStats() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = Stats{}
}

func (r *Executor) update(fn func(*Stats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.stats)
}

// finish records the end of one Execute call
func (r *Executor) finish(success bool, attempts int) {
	r.update(func(s *Stats) {
		if success {
			s.TotalSuccesses++
		} else {
			s.TotalFailures++
		}
		if attempts > 1 {
			s.TotalRetries++
		}
		if total := s.TotalSuccesses + s.TotalFailures; total > 0 {
			s.AverageAttempts = float64(s.TotalAttempts) / float64(total)
		}
	})
}

// wrapError attaches retry information to the final error
func (r *Executor) wrapError(err error, attempts int) error {
	var taskErr *types.TaskError
	if errors.As(err, &taskErr) {
		// the original is shared with the scheduler's result record
		wrapped := *taskErr
		wrapped.Context = maps.Clone(taskErr.Context)
		return wrapped.
			WithContext("retry_attempts", attempts).
			WithContext("max_attempts", r.policy.MaxAttempts())
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
