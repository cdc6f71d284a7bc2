package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/offload/internal/testutils"
	"github.com/jzx17/offload/pkg/types"
	"github.com/jzx17/offload/pkg/worker"
)

const waitFor = 5 * time.Second

// harness bundles a scheduler with handlers tests can steer
type harness struct {
	*Scheduler
	gate *testutils.Gate

	mu    sync.Mutex
	order []string

	running atomic.Int32
	peak    atomic.Int32
	flaky   atomic.Int32
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{gate: testutils.NewGate(64)}
	reg := worker.NewRegistry()
	reg.MustRegister("echo", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		return payload, nil
	}))
	reg.MustRegister("fail", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		return nil, fmt.Errorf("cannot process %v", payload)
	}))
	reg.MustRegister("panic", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		panic("unit crashed")
	}))
	reg.MustRegister("gate", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		if err := h.gate.Wait(ctx, fmt.Sprint(payload)); err != nil {
			return nil, err
		}
		return payload, nil
	}))
	reg.MustRegister("record", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		h.mu.Lock()
		h.order = append(h.order, fmt.Sprint(payload))
		h.mu.Unlock()
		return payload, nil
	}))
	reg.MustRegister("sleep", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		cur := h.running.Add(1)
		defer h.running.Add(-1)
		for {
			peak := h.peak.Load()
			if cur <= peak || h.peak.CompareAndSwap(peak, cur) {
				break
			}
		}
		time.Sleep(payload.(time.Duration))
		return "slept", nil
	}))
	reg.MustRegister("flaky", worker.HandlerFunc(func(ctx context.Context, payload any) (any, error) {
		if h.flaky.Add(1) == 1 {
			panic("first attempt crashes")
		}
		return "recovered", nil
	}))

	cfg := DefaultConfig()
	cfg.PoolSize = 2
	cfg.Registry = reg
	cfg.Logger = testutils.NewTestLogger(t)
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	h.Scheduler = s

	t.Cleanup(func() {
		h.gate.Open()
		require.NoError(t, s.Shutdown(testutils.Context(t, waitFor)))
	})
	return h
}

func withMockClock(mClock *quartz.Mock) func(*Config) {
	return func(c *Config) {
		c.Clock = testutils.NewClockWrapper(mClock)
	}
}

func (h *harness) stats(t *testing.T) Statistics {
	t.Helper()
	st, err := h.Statistics()
	require.NoError(t, err)
	return st
}

func (h *harness) enqueue(t *testing.T, typ worker.TaskType, payload any, opts ...Option) *Pending {
	t.Helper()
	p, err := h.Enqueue(context.Background(), typ, payload, opts...)
	require.NoError(t, err)
	return p
}

func await(t *testing.T, p *Pending) (any, error) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(waitFor):
		require.FailNow(t, "task did not settle", p.ID())
	}
	return p.Wait(context.Background())
}

func TestNew(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		s, err := New(nil)
		require.NoError(t, err)
		defer s.Shutdown(context.Background())

		st, err := s.Statistics()
		require.NoError(t, err)
		assert.Equal(t, worker.DefaultPoolSize(worker.MaxPoolSize), st.PoolSize)
		assert.False(t, st.Degraded)
		assert.NotEmpty(t, s.ID())
	})

	t.Run("pool size is capped", func(t *testing.T) {
		h := newHarness(t, func(c *Config) {
			c.PoolSize = 8
			c.MaxPoolSize = 2
		})
		assert.Equal(t, 2, h.stats(t).PoolSize)
	})

	t.Run("invalid water marks", func(t *testing.T) {
		_, err := New(&Config{ResultHighWater: 10, ResultLowWater: 20})
		assert.Error(t, err)
	})

	t.Run("invalid success rate threshold", func(t *testing.T) {
		_, err := New(&Config{SuccessRateWarnThreshold: 1.5})
		assert.Error(t, err)
	})
}

func TestScheduler_Submit(t *testing.T) {
	h := newHarness(t, nil)

	value, err := h.Submit(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	st := h.stats(t)
	assert.Equal(t, int64(1), st.TotalSubmitted)
	assert.Equal(t, int64(1), st.TotalProcessed)
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, 1.0, st.SuccessRate)
	assert.Equal(t, 1, st.StoredResults)
}

func TestScheduler_Enqueue(t *testing.T) {
	h := newHarness(t, nil)

	p := h.enqueue(t, "echo", 42, WithPriority(types.PriorityHigh), WithTimeout(time.Minute))
	assert.NotEmpty(t, p.ID())
	assert.Equal(t, "echo", p.Descriptor().Type)
	assert.Equal(t, types.PriorityHigh, p.Descriptor().Priority)
	assert.Equal(t, time.Minute, p.Descriptor().Timeout)

	value, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	rec, ok := p.Record()
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.True(t, rec.Succeeded())
	assert.GreaterOrEqual(t, rec.WorkerID, 0)

	got, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, rec, got)

	st, ok := h.State(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, st)
}

func TestScheduler_EnqueueValidation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.Enqueue(context.Background(), "", nil)
	assert.ErrorIs(t, err, types.ErrInvalidTask)

	_, err = h.Enqueue(context.Background(), "echo", nil, WithPriority(types.Priority(7)))
	assert.ErrorIs(t, err, types.ErrInvalidTask)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Enqueue(ctx, "echo", nil)
	assert.ErrorIs(t, err, context.Canceled)

	p := h.enqueue(t, "echo", nil, WithTimeout(-time.Second))
	assert.Equal(t, DefaultTimeout, p.Descriptor().Timeout)
}

func TestScheduler_TaskIDsAreSortable(t *testing.T) {
	h := newHarness(t, nil)

	first := h.enqueue(t, "echo", 1)
	second := h.enqueue(t, "echo", 2)
	assert.Less(t, first.ID(), second.ID())
}

func TestScheduler_HandlerError(t *testing.T) {
	h := newHarness(t, nil)

	p := h.enqueue(t, "fail", "bad-doc")
	_, err := await(t, p)

	require.Error(t, err)
	assert.True(t, types.IsHandlerError(err))
	assert.False(t, types.IsWorkerFault(err))
	assert.Contains(t, err.Error(), "cannot process bad-doc")

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusFailed, rec.Status)

	st := h.stats(t)
	assert.Equal(t, int64(1), st.HandlerErrors)
	assert.Equal(t, int64(1), st.Failed)
	assert.Equal(t, 0.0, st.SuccessRate)
}

func TestScheduler_UnknownTaskType(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.Submit(context.Background(), "no-such-type", nil)

	assert.True(t, types.IsHandlerError(err))
	assert.ErrorIs(t, err, types.ErrUnknownTaskType)
}

func TestScheduler_WorkerFault(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	p := h.enqueue(t, "panic", nil)
	_, err := await(t, p)

	require.Error(t, err)
	assert.True(t, types.IsWorkerFault(err))
	assert.Equal(t, types.KindWorker, types.KindOf(err))

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusWorkerError, rec.Status)

	st := h.stats(t)
	require.Len(t, st.Workers, 1)
	assert.False(t, st.Workers[0].Busy, "faulted worker returns to the idle pool")
	assert.Equal(t, int64(1), st.Workers[0].Faults)
	assert.Equal(t, int64(0), st.Workers[0].TasksCompleted)
	assert.Equal(t, int64(1), st.WorkerErrors)

	// the pool did not shrink
	value, err := h.Submit(context.Background(), "echo", "after")
	require.NoError(t, err)
	assert.Equal(t, "after", value)
	assert.Equal(t, int64(1), h.stats(t).Workers[0].TasksCompleted)
}

func TestScheduler_WorkerFaultIsolation(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 2 })

	slow := h.enqueue(t, "gate", "slow")
	h.gate.RequireEntered(t, waitFor)

	crash := h.enqueue(t, "panic", nil)
	_, err := await(t, crash)
	assert.True(t, types.IsWorkerFault(err))

	state, ok := h.State(slow.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusActive, state, "task on the other worker is unaffected")

	h.gate.Open()
	value, err := await(t, slow)
	require.NoError(t, err)
	assert.Equal(t, "slow", value)
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 2 })

	pending := make([]*Pending, 8)
	for i := range pending {
		pending[i] = h.enqueue(t, "sleep", 5*time.Millisecond)
		st := h.stats(t)
		assert.LessOrEqual(t, st.ActiveTasks, st.PoolSize)
		assert.LessOrEqual(t, st.ActiveWorkers, st.PoolSize)
	}
	for _, p := range pending {
		_, err := await(t, p)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, h.peak.Load(), int32(2))
	assert.Equal(t, int64(8), h.stats(t).Completed)
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	blocker := h.enqueue(t, "gate", "blocker")
	h.gate.RequireEntered(t, waitFor)

	var pending []*Pending
	pending = append(pending, h.enqueue(t, "record", "n1"))
	pending = append(pending, h.enqueue(t, "record", "n2"))
	pending = append(pending, h.enqueue(t, "record", "h1", WithPriority(types.PriorityHigh)))
	pending = append(pending, h.enqueue(t, "record", "h2", WithPriority(types.PriorityHigh)))

	st := h.stats(t)
	assert.Equal(t, 4, st.QueueLength)
	assert.Equal(t, 2, st.HighPriority)

	h.gate.Open()
	_, err := await(t, blocker)
	require.NoError(t, err)
	for _, p := range pending {
		_, err := await(t, p)
		require.NoError(t, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"h2", "h1", "n1", "n2"}, h.order)
}

func TestScheduler_Timeout(t *testing.T) {
	mClock := quartz.NewMock(t)
	h := newHarness(t, withMockClock(mClock))
	ctx := testutils.Context(t, waitFor)

	p := h.enqueue(t, "gate", "late", WithTimeout(5*time.Millisecond))
	h.gate.RequireEntered(t, waitFor)

	mClock.Advance(5 * time.Millisecond).MustWait(ctx)

	_, err := await(t, p)
	require.Error(t, err)
	assert.True(t, types.IsTimeout(err))

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusTimeout, rec.Status)

	st := h.stats(t)
	assert.Equal(t, 0, st.ActiveTasks)
	assert.Equal(t, 1, st.ActiveWorkers, "worker stays busy until the late result arrives")
	assert.Equal(t, int64(1), st.TimedOut)

	h.gate.Open()
	require.Eventually(t, func() bool {
		return h.stats(t).ActiveWorkers == 0
	}, waitFor, time.Millisecond)

	rec, ok = h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusTimeout, rec.Status, "late result is discarded")

	st = h.stats(t)
	assert.Equal(t, int64(0), st.Completed)
	assert.Equal(t, int64(1), st.TotalProcessed)
}

func TestScheduler_TimeoutWhileQueued(t *testing.T) {
	mClock := quartz.NewMock(t)
	h := newHarness(t, func(c *Config) {
		c.PoolSize = 1
		c.Clock = testutils.NewClockWrapper(mClock)
	})
	ctx := testutils.Context(t, waitFor)

	h.enqueue(t, "gate", "blocker", WithTimeout(time.Minute))
	h.gate.RequireEntered(t, waitFor)
	queued := h.enqueue(t, "echo", "never", WithTimeout(10*time.Millisecond))

	mClock.Advance(10 * time.Millisecond).MustWait(ctx)

	_, err := await(t, queued)
	assert.True(t, types.IsTimeout(err))

	st := h.stats(t)
	assert.Equal(t, 0, st.QueueLength)
	assert.Equal(t, 1, st.ActiveTasks)

	rec, ok := h.GetResult(queued.ID())
	require.True(t, ok)
	assert.Equal(t, -1, rec.WorkerID)
}

func TestScheduler_CompletionBeatsTimeout(t *testing.T) {
	mClock := quartz.NewMock(t)
	h := newHarness(t, withMockClock(mClock))
	ctx := testutils.Context(t, waitFor)

	p := h.enqueue(t, "gate", "fast", WithTimeout(5*time.Millisecond))
	h.gate.RequireEntered(t, waitFor)

	mClock.Advance(4 * time.Millisecond).MustWait(ctx)
	h.gate.Open()

	value, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, "fast", value)

	// the timer was stopped, nothing fires at the deadline
	mClock.Advance(time.Millisecond).MustWait(ctx)

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusCompleted, rec.Status)
	assert.Equal(t, int64(0), h.stats(t).TimedOut)
}

func TestScheduler_TimeoutScenario(t *testing.T) {
	h := newHarness(t, nil)

	start := time.Now()
	p := h.enqueue(t, "sleep", 50*time.Millisecond, WithTimeout(5*time.Millisecond))
	_, err := await(t, p)

	assert.True(t, types.IsTimeout(err))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusTimeout, rec.Status)
}

func TestScheduler_CancelQueued(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	h.enqueue(t, "gate", "blocker")
	h.gate.RequireEntered(t, waitFor)
	queued := h.enqueue(t, "echo", "never")

	assert.True(t, h.Cancel(queued.ID()))
	assert.False(t, h.Cancel(queued.ID()), "second cancel is a no-op")

	_, err := await(t, queued)
	assert.True(t, types.IsCancelled(err))

	state, ok := h.State(queued.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusCancelled, state)

	st := h.stats(t)
	assert.Equal(t, 0, st.QueueLength)
	assert.Equal(t, int64(1), st.Cancelled)
	assert.Equal(t, int64(0), st.TotalProcessed, "cancellations are not processed tasks")
}

func TestScheduler_CancelActive(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	p := h.enqueue(t, "gate", "running")
	h.gate.RequireEntered(t, waitFor)

	assert.True(t, h.Cancel(p.ID()))
	_, err := await(t, p)
	assert.True(t, types.IsCancelled(err))

	st := h.stats(t)
	assert.Equal(t, 0, st.ActiveTasks)
	assert.Equal(t, 1, st.ActiveWorkers, "cancellation does not interrupt the worker")

	h.gate.Open()
	require.Eventually(t, func() bool {
		return h.stats(t).ActiveWorkers == 0
	}, waitFor, time.Millisecond)

	rec, ok := h.GetResult(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusCancelled, rec.Status)
}

func TestScheduler_CancelUnknown(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.Cancel("missing"))

	_, ok := h.GetResult("missing")
	assert.False(t, ok)
	_, ok = h.State("missing")
	assert.False(t, ok)
}

func TestPending_WaitContextCancels(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	p := h.enqueue(t, "gate", "abandoned")
	h.gate.RequireEntered(t, waitFor)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	require.Error(t, err)
	assert.True(t, types.IsCancelled(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	state, ok := h.State(p.ID())
	require.True(t, ok)
	assert.Equal(t, types.StatusCancelled, state)
}

func TestScheduler_PoolScenario(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 2 })

	pending := make([]*Pending, 5)
	for i := range pending {
		pending[i] = h.enqueue(t, "sleep", 10*time.Millisecond)
	}
	assert.GreaterOrEqual(t, h.stats(t).QueueLength, 1)

	for _, p := range pending {
		_, err := await(t, p)
		require.NoError(t, err)
	}

	st := h.stats(t)
	assert.Equal(t, int64(5), st.TotalProcessed)
	assert.Equal(t, 1.0, st.SuccessRate)
	assert.Equal(t, 0, st.QueueLength)
	assert.LessOrEqual(t, h.peak.Load(), int32(2))

	var completed int64
	for _, w := range st.Workers {
		completed += w.TasksCompleted
	}
	assert.Equal(t, int64(5), completed)
}

func TestScheduler_ExactlyOnceTerminal(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 3 })

	const n = 60
	pending := make([]*Pending, n)
	for i := range pending {
		pending[i] = h.enqueue(t, "sleep", time.Duration(i%4)*time.Millisecond,
			WithTimeout(time.Duration(1+i%5)*time.Millisecond))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i += 3 {
		wg.Add(1)
		go func(p *Pending) {
			defer wg.Done()
			h.Cancel(p.ID())
		}(pending[i])
	}
	wg.Wait()

	statuses := map[types.Status]int64{}
	for _, p := range pending {
		_, _ = await(t, p)
		rec, ok := p.Record()
		require.True(t, ok)
		require.True(t, rec.Status.Terminal())
		statuses[rec.Status]++
	}

	st := h.stats(t)
	assert.Equal(t, int64(n), st.TotalSubmitted)
	assert.Equal(t, int64(n), st.TotalProcessed+st.Cancelled, "every task settles exactly once")
	assert.Equal(t, statuses[types.StatusCompleted], st.Completed)
	assert.Equal(t, statuses[types.StatusTimeout], st.TimedOut)
	assert.Equal(t, statuses[types.StatusCancelled], st.Cancelled)
	assert.LessOrEqual(t, h.peak.Load(), int32(3))
}

func TestScheduler_ResultStoreSweep(t *testing.T) {
	mClock := quartz.NewMock(t)
	h := newHarness(t, func(c *Config) {
		c.Clock = testutils.NewClockWrapper(mClock)
		c.ResultHighWater = 4
		c.ResultLowWater = 2
	})
	ctx := testutils.Context(t, waitFor)

	ids := make([]string, 6)
	for i := range ids {
		p := h.enqueue(t, "echo", i)
		_, err := await(t, p)
		require.NoError(t, err)
		ids[i] = p.ID()
		mClock.Advance(time.Millisecond).MustWait(ctx)
	}
	require.Equal(t, 6, h.stats(t).StoredResults)

	_, w := mClock.AdvanceNext()
	w.MustWait(ctx)

	require.Eventually(t, func() bool {
		return h.stats(t).StoredResults == 2
	}, waitFor, time.Millisecond)

	for _, id := range ids[:4] {
		_, ok := h.GetResult(id)
		assert.False(t, ok, "old result %s must be evicted", id)
	}
	for _, id := range ids[4:] {
		_, ok := h.GetResult(id)
		assert.True(t, ok, "recent result %s must be retained", id)
	}
	assert.Equal(t, int64(4), h.stats(t).EvictedResults)
}

// syncBuffer is a bytes.Buffer safe for the scheduler goroutine and the test
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestScheduler_HealthCheck(t *testing.T) {
	mClock := quartz.NewMock(t)
	logs := &syncBuffer{}
	h := newHarness(t, func(c *Config) {
		c.Clock = testutils.NewClockWrapper(mClock)
		c.Logger = slog.New(slog.NewJSONHandler(logs, nil))
	})
	ctx := testutils.Context(t, waitFor)

	for i := 0; i < 10; i++ {
		_, err := h.Submit(context.Background(), "fail", i)
		require.Error(t, err)
	}

	_, w := mClock.AdvanceNext()
	w.MustWait(ctx)

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(logs.String()), []byte("task success rate below threshold"))
	}, waitFor, time.Millisecond)
}

func TestScheduler_QueueWarning(t *testing.T) {
	logs := &syncBuffer{}
	h := newHarness(t, func(c *Config) {
		c.PoolSize = 1
		c.QueueWarnThreshold = 2
		c.Logger = slog.New(slog.NewJSONHandler(logs, nil))
	})

	h.enqueue(t, "gate", "blocker")
	h.gate.RequireEntered(t, waitFor)
	for i := 0; i < 3; i++ {
		h.enqueue(t, "echo", i)
	}

	assert.Contains(t, logs.String(), "task queue above threshold")
	assert.Equal(t, 3, h.stats(t).QueueLength, "callers are never throttled")
}

func TestScheduler_Degraded(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.PoolSize = 2
		c.UnitFactory = func(id int) (*worker.Unit, error) {
			return nil, errors.New("sandbox unavailable")
		}
	})

	st := h.stats(t)
	assert.True(t, st.Degraded)
	assert.Equal(t, 1, st.PoolSize)
	assert.Equal(t, 2, st.RequestedPoolSize)

	value, err := h.Submit(context.Background(), "echo", "still works")
	require.NoError(t, err)
	assert.Equal(t, "still works", value)
}

func TestScheduler_SubmitBatch(t *testing.T) {
	h := newHarness(t, nil)

	report := h.SubmitBatch(context.Background(), []Request{
		{Type: "echo", Payload: "ok"},
		{Type: "fail", Payload: "doc"},
		{Type: "", Payload: nil},
	})

	require.Len(t, report.Results, 3)
	assert.Equal(t, 3, report.TotalCount)
	assert.Equal(t, 1, report.SuccessCount)

	ok := report.Results[0]
	assert.Equal(t, 0, ok.Index)
	assert.True(t, ok.Success)
	assert.Equal(t, "ok", ok.Value)
	assert.NotEmpty(t, ok.TaskID)

	failed := report.Results[1]
	assert.Equal(t, 1, failed.Index)
	assert.False(t, failed.Success)
	assert.True(t, types.IsHandlerError(failed.Err))

	rejected := report.Results[2]
	assert.False(t, rejected.Success)
	assert.Empty(t, rejected.TaskID)
	assert.ErrorIs(t, rejected.Err, types.ErrInvalidTask)
}

func TestScheduler_SubmitWithRetry(t *testing.T) {
	h := newHarness(t, nil)

	value, err := h.SubmitWithRetry(context.Background(), nil, "flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)

	st := h.stats(t)
	assert.Equal(t, int64(2), st.TotalSubmitted)
	assert.Equal(t, int64(1), st.WorkerErrors)
	assert.Equal(t, int64(1), st.Completed)
}

func TestScheduler_NoAutomaticRetry(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.Submit(context.Background(), "flaky", nil)
	assert.True(t, types.IsWorkerFault(err))
	assert.Equal(t, int32(1), h.flaky.Load())
	assert.Equal(t, int64(1), h.stats(t).TotalSubmitted)
}

func TestScheduler_Shutdown(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.PoolSize = 1 })

	active := h.enqueue(t, "gate", "active")
	h.gate.RequireEntered(t, waitFor)
	queued := h.enqueue(t, "echo", "queued")

	require.NoError(t, h.Shutdown(testutils.Context(t, waitFor)))

	for _, p := range []*Pending{active, queued} {
		_, err := await(t, p)
		assert.ErrorIs(t, err, types.ErrSchedulerClosed)
		assert.True(t, types.IsCancelled(err))
	}

	_, err := h.Enqueue(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, types.ErrSchedulerClosed)

	_, err = h.Statistics()
	assert.ErrorIs(t, err, types.ErrSchedulerClosed)
	assert.False(t, h.Cancel(active.ID()))

	// repeated shutdown is a no-op
	require.NoError(t, h.Shutdown(testutils.Context(t, waitFor)))
}
