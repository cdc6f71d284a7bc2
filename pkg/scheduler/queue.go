package scheduler

import (
	"container/list"
	"time"

	"github.com/jzx17/offload/pkg/types"
)

// queuedTask is a descriptor waiting for a worker
type queuedTask struct {
	desc       types.Descriptor
	enqueuedAt time.Time
}

// QueueStats contains task queue statistics
type QueueStats struct {
	Length        int
	HighPriority  int
	TotalEnqueued int64
	TotalDequeued int64
	TotalRemoved  int64

	// wait time of dequeued tasks
	AverageWait time.Duration
	MaxWait     time.Duration
}

// TaskQueue is a two-level priority queue. High priority descriptors are
// inserted at the head, normal ones appended at the tail, so the most
// recently queued high priority task is dispatched first.
//
// TaskQueue is not safe for concurrent use; the scheduler loop owns it.
type TaskQueue struct {
	items *list.List
	index map[string]*list.Element
	high  int
	clock types.Clock

	totalEnqueued int64
	totalDequeued int64
	totalRemoved  int64
	totalWait     time.Duration
	maxWait       time.Duration
}

// NewTaskQueue creates an empty queue
func NewTaskQueue(clock types.Clock) *TaskQueue {
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &TaskQueue{
		items: list.New(),
		index: make(map[string]*list.Element),
		clock: clock,
	}
}

// Enqueue adds a descriptor. It returns false if the id is already queued.
func (q *TaskQueue) Enqueue(desc types.Descriptor) bool {
	if _, exists := q.index[desc.ID]; exists {
		return false
	}

	item := &queuedTask{desc: desc, enqueuedAt: q.clock.Now()}
	if desc.Priority == types.PriorityHigh {
		q.index[desc.ID] = q.items.PushFront(item)
		q.high++
	} else {
		q.index[desc.ID] = q.items.PushBack(item)
	}
	q.totalEnqueued++
	return true
}

// Dequeue pops the head of the queue
func (q *TaskQueue) Dequeue() (types.Descriptor, bool) {
	front := q.items.Front()
	if front == nil {
		return types.Descriptor{}, false
	}

	item := q.unlink(front)
	wait := q.clock.Since(item.enqueuedAt)
	q.totalDequeued++
	q.totalWait += wait
	if wait > q.maxWait {
		q.maxWait = wait
	}
	return item.desc, true
}

// Peek returns the head without removing it
func (q *TaskQueue) Peek() (types.Descriptor, bool) {
	front := q.items.Front()
	if front == nil {
		return types.Descriptor{}, false
	}
	return front.Value.(*queuedTask).desc, true
}

// Remove drops a queued descriptor by id
func (q *TaskQueue) Remove(id string) bool {
	elem, ok := q.index[id]
	if !ok {
		return false
	}
	q.unlink(elem)
	q.totalRemoved++
	return true
}

func (q *TaskQueue) unlink(elem *list.Element) *queuedTask {
	item := q.items.Remove(elem).(*queuedTask)
	delete(q.index, item.desc.ID)
	if item.desc.Priority == types.PriorityHigh {
		q.high--
	}
	return item
}

// Contains reports whether id is queued
func (q *TaskQueue) Contains(id string) bool {
	_, ok := q.index[id]
	return ok
}

// Len returns the number of queued descriptors
func (q *TaskQueue) Len() int {
	return q.items.Len()
}

// LenByPriority returns queue length grouped by priority
func (q *TaskQueue) LenByPriority() map[types.Priority]int {
	return map[types.Priority]int{
		types.PriorityHigh:   q.high,
		types.PriorityNormal: q.items.Len() - q.high,
	}
}

// IDs returns the queued ids in dispatch order
func (q *TaskQueue) IDs() []string {
	ids := make([]string, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*queuedTask).desc.ID)
	}
	return ids
}

// Drain removes and returns every queued descriptor in dispatch order
func (q *TaskQueue) Drain() []types.Descriptor {
	out := make([]types.Descriptor, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		out = append(out, q.unlink(e).desc)
	}
	q.totalRemoved += int64(len(out))
	return out
}

// Stats returns queue statistics
func (q *TaskQueue) Stats() QueueStats {
	stats := QueueStats{
		Length:        q.items.Len(),
		HighPriority:  q.high,
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		TotalRemoved:  q.totalRemoved,
		MaxWait:       q.maxWait,
	}
	if q.totalDequeued > 0 {
		stats.AverageWait = q.totalWait / time.Duration(q.totalDequeued)
	}
	return stats
}
