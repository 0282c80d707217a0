package queue

import "container/heap"

// lane is a min-heap of items ordered by (DueAt, enqueue sequence).
// All access is serialized by the owning Set's mutex.
type lane struct {
	items    laneHeap
	capacity int
	paused   bool

	// lightweight per-lane delivery counters, updated by the dispatcher
	processed   uint64
	failed      uint64
	totalMillis int64
}

func (l *lane) push(it Item) {
	heap.Push(&l.items, it)
}

func (l *lane) peek() (Item, bool) {
	if len(l.items) == 0 {
		return Item{}, false
	}
	return l.items[0], true
}

func (l *lane) pop() Item {
	return heap.Pop(&l.items).(Item)
}

type laneHeap []Item

func (h laneHeap) Len() int { return len(h) }

func (h laneHeap) Less(i, j int) bool {
	if !h[i].DueAt.Equal(h[j].DueAt) {
		return h[i].DueAt.Before(h[j].DueAt)
	}
	return h[i].seq < h[j].seq
}

func (h laneHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *laneHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *laneHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
