package reactor

import (
	"container/heap"
	"time"
)

// Timer is a scheduled room action (spec.md §3, component H). Its two
// index fields always point back to itself in both the owning room's
// handle list and the worker's heap; removing a timer swaps with the
// last element in each and fixes up indices, exactly as spec.md
// describes.
type Timer struct {
	Deadline  time.Time
	Callback  func(now time.Time)
	Data      any
	Room      *Room
	KeepAlive bool

	heapIndex int
	roomIndex int
}

// timerHeap is a per-worker min-heap of live timers, ordered by
// deadline. container/heap is used because nothing in the retrieved
// pack ships a third-party priority-queue library for this — see
// DESIGN.md.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].Deadline.Before(h[j].Deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// peekMin returns the timer with the smallest deadline without removing
// it, or nil if the heap is empty.
func (h timerHeap) peekMin() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// removeTimer removes t from the heap in O(log n), wherever it currently
// sits.
func removeTimer(h *timerHeap, t *Timer) {
	if t.heapIndex < 0 || t.heapIndex >= len(*h) {
		return
	}
	heap.Remove(h, t.heapIndex)
}
