package scheduler

import (
	"container/heap"
	"time"

	"github.com/robfig/cron/v3"
)

type entry struct {
	scheduleID uint
	spec       cron.Schedule
	next       time.Time
	index      int
}

// entryHeap orders entries by next activation.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].scheduleID < h[j].scheduleID
	}
	return h[i].next.Before(h[j].next)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// queue is the set of enabled schedules. Not safe for concurrent use.
type queue struct {
	h     entryHeap
	index map[uint]*entry
}

func newQueue() *queue {
	return &queue{index: make(map[uint]*entry)}
}

func (q *queue) upsert(id uint, spec cron.Schedule, next time.Time) {
	if e, ok := q.index[id]; ok {
		e.spec = spec
		e.next = next
		heap.Fix(&q.h, e.index)
		return
	}
	e := &entry{scheduleID: id, spec: spec, next: next}
	heap.Push(&q.h, e)
	q.index[id] = e
}

func (q *queue) remove(id uint) {
	e, ok := q.index[id]
	if !ok {
		return
	}
	heap.Remove(&q.h, e.index)
	delete(q.index, id)
}

func (q *queue) next(id uint) (time.Time, bool) {
	e, ok := q.index[id]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// due pops the entries due at t, moves each to its next activation after t
// and returns their ids in activation order.
func (q *queue) due(t time.Time) []uint {
	var ids []uint
	var fired []*entry
	for q.h.Len() > 0 && !q.h[0].next.After(t) {
		e := heap.Pop(&q.h).(*entry)
		ids = append(ids, e.scheduleID)
		fired = append(fired, e)
	}
	for _, e := range fired {
		e.next = e.spec.Next(t)
		heap.Push(&q.h, e)
	}
	return ids
}

func (q *queue) len() int { return q.h.Len() }
