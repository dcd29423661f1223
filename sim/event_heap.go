package sim

import "container/heap"

// eventHeap implements a priority queue with deterministic ordering.
// Ordering: time → kind dispatch priority → insertion seq.
type eventHeap struct {
	events []*scheduledEvent
}

func newEventHeap() *eventHeap {
	h := &eventHeap{
		events: make([]*scheduledEvent, 0),
	}
	heap.Init(h)
	return h
}

// Len implements heap.Interface.
func (h *eventHeap) Len() int {
	return len(h.events)
}

// Less implements heap.Interface with deterministic ordering.
// Order by: time → kind priority → seq.
func (h *eventHeap) Less(i, j int) bool {
	ei, ej := h.events[i], h.events[j]

	// Primary: simulated time (earlier first)
	if ei.time != ej.time {
		return ei.time < ej.time
	}

	// Secondary: kind priority (lower value = dispatched first)
	priI := kindPriority[ei.ev.Kind()]
	priJ := kindPriority[ej.ev.Kind()]
	if priI != priJ {
		return priI < priJ
	}

	// Tertiary: insertion seq (FIFO among same-kind same-time events)
	return ei.seq < ej.seq
}

// Swap implements heap.Interface.
func (h *eventHeap) Swap(i, j int) {
	h.events[i], h.events[j] = h.events[j], h.events[i]
}

// Push implements heap.Interface.
func (h *eventHeap) Push(x interface{}) {
	h.events = append(h.events, x.(*scheduledEvent))
}

// Pop implements heap.Interface.
func (h *eventHeap) Pop() interface{} {
	old := h.events
	n := len(old)
	item := old[n-1]
	h.events = old[0 : n-1]
	return item
}

// push adds a scheduled event to the heap.
func (h *eventHeap) push(se *scheduledEvent) {
	heap.Push(h, se)
}

// popNext removes and returns the next event, or nil when empty.
func (h *eventHeap) popNext() *scheduledEvent {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*scheduledEvent)
}

// peek returns the next event without removing it.
func (h *eventHeap) peek() *scheduledEvent {
	if h.Len() == 0 {
		return nil
	}
	return h.events[0]
}
