// Package retry provides opt-in, caller-side retries for offloaded tasks.
//
// The scheduler never retries on its own: a task that ends with a worker
// fault is reported to its caller as worker-error. Callers whose handlers are
// safe to run twice can wrap a submission in an Executor:
//
//	policy := retry.NewExponentialBackoffRetry(3, 100*time.Millisecond,
//		retry.WithMaxDelay(2*time.Second))
//	executor := retry.NewExecutor(policy, retry.WithLogger(logger))
//
//	value, err := retry.Execute(executor, ctx, "summarize", func(ctx context.Context) (any, error) {
//		return sched.Submit(ctx, worker.TypeSummarize, payload)
//	})
//
// DefaultRetryCondition retries worker faults only. Handler errors, timeouts
// and cancellations are final unless a policy is built WithRetryCondition,
// for example RetryFaultsAndTimeouts.
//
// Every attempt submits a fresh task with its own id.
package retry
