package dataengine

import "github.com/zigquant/engine/internal/events"

// heapItem pairs a pulled event with the index of the source it came from,
// used to break timestamp ties by source priority ("ties
// broken by (source priority, arrival order)").
type heapItem struct {
	event        events.Event
	sourceIndex  int
	arrivalOrder uint64
}

// sourceHeap is a min-heap over heapItem ordered by timestamp, then source
// priority (lower sourceIndex wins), then arrival order.
type sourceHeap []heapItem

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	ti := h[i].event.EventHeader().TimestampNs
	tj := h[j].event.EventHeader().TimestampNs
	if ti != tj {
		return ti < tj
	}
	if h[i].sourceIndex != h[j].sourceIndex {
		return h[i].sourceIndex < h[j].sourceIndex
	}
	return h[i].arrivalOrder < h[j].arrivalOrder
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *sourceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
