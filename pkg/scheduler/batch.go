package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

// Request is one member of a batch submission
type Request struct {
	Type     worker.TaskType
	Payload  any
	Priority types.Priority
	Timeout  time.Duration
}

func (r Request) options() []Option {
	return []Option{WithPriority(r.Priority), WithTimeout(r.Timeout)}
}

// SubmitBatch submits every request concurrently and waits for all of them
// to settle. A failing member never stops the others, and SubmitBatch itself
// does not fail: rejected submissions are reported in their result.
func (s *Scheduler) SubmitBatch(ctx context.Context, reqs []Request) types.BatchReport {
	results := make([]types.BatchResult, len(reqs))

	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			start := s.clock.Now()
			res := types.BatchResult{Index: i}

			p, err := s.Enqueue(ctx, req.Type, req.Payload, req.options()...)
			if err == nil {
				res.TaskID = p.ID()
				res.Value, err = p.Wait(ctx)
			}

			res.Success = err == nil
			res.Err = err
			res.Duration = s.clock.Since(start)
			results[i] = res

			// members never fail the group
			return nil
		})
	}
	_ = g.Wait()

	report := types.BatchReport{
		Results:    results,
		TotalCount: len(reqs),
	}
	for _, r := range results {
		if r.Success {
			report.SuccessCount++
		}
	}
	return report
}
