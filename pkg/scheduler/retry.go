package scheduler

import (
	"context"

	"github.com/jzx17/offload/pkg/retry"
	"github.com/jzx17/offload/pkg/worker"
)

// SubmitWithRetry submits a task and resubmits it as a fresh task while the
// executor's policy allows. A nil executor retries worker faults up to three
// attempts without delay.
func (s *Scheduler) SubmitWithRetry(ctx context.Context, executor *retry.Executor, taskType worker.TaskType, payload any, opts ...Option) (any, error) {
	if executor == nil {
		executor = retry.NewExecutor(retry.NewFixedDelayRetry(3, 0),
			retry.WithClock(s.clock),
			retry.WithLogger(s.log))
	}

	return retry.Execute(executor, ctx, string(taskType), func(ctx context.Context) (any, error) {
		return s.Submit(ctx, taskType, payload, opts...)
	})
}
