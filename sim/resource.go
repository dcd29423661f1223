// Resource mechanics: wait-queue ordering per discipline, held-slot
// accounting, failure units, and the time-weighted integrals behind
// utilization and queue-length metrics. Orchestration (granting, preemption,
// reneging) lives on the Simulator; this file owns only resource state.

package sim

import (
	"fmt"
	"math"
)

// Discipline selects the queueing policy of a resource.
type Discipline string

const (
	DisciplineFIFO       Discipline = "fifo"
	DisciplinePriority   Discipline = "priority"
	DisciplinePreemptive Discipline = "preemptive"
)

// ValidDisciplines enumerates accepted resource_type values.
var ValidDisciplines = map[Discipline]bool{
	DisciplineFIFO:       true,
	DisciplinePriority:   true,
	DisciplinePreemptive: true,
}

// waiter is one queued request for a slot.
type waiter struct {
	entity   *Entity
	priority int
	seq      uint64 // arrival order within the queue, tie-break
	joinTime float64
	patience *EventHandle // pending patience timeout, nil without a reneging rule
}

// slot is one granted unit of capacity.
type slot struct {
	entity    *Entity
	priority  int
	grantTime float64
	done      *EventHandle // pending service completion
}

// Resource is a named, capacity-bounded pool of servers contended for by
// entities. All mutation is serialized by the scheduler's single-threaded
// dispatch.
type Resource struct {
	name       string
	capacity   int
	discipline Discipline

	waiting []*waiter
	held    []*slot
	failed  int // units down for repair

	nextSeq uint64

	// Time-weighted accumulators. Integration starts at the warmup boundary
	// and is advanced by accumulate before every state mutation.
	lastAccum    float64
	observedFrom float64
	busySeconds  float64
	availSeconds float64
	queueSeconds float64
}

func newResource(name string, capacity int, discipline Discipline, warmup float64) *Resource {
	return &Resource{
		name:         name,
		capacity:     capacity,
		discipline:   discipline,
		observedFrom: warmup,
	}
}

func (r *Resource) Name() string           { return r.name }
func (r *Resource) Capacity() int          { return r.capacity }
func (r *Resource) Discipline() Discipline { return r.discipline }

// QueueLength is the number of waiting requests, the quantity balking rules
// evaluate against.
func (r *Resource) QueueLength() int { return len(r.waiting) }

// HeldCount is the number of currently granted slots.
func (r *Resource) HeldCount() int { return len(r.held) }

// FailedUnits is the number of capacity units currently down for repair.
func (r *Resource) FailedUnits() int { return r.failed }

// effectiveCapacity is the capacity available for new grants: nominal
// capacity minus failed units, floored at zero.
func (r *Resource) effectiveCapacity() int {
	c := r.capacity - r.failed
	if c < 0 {
		return 0
	}
	return c
}

// freeSlots is how many new grants the resource can accept right now. Held
// slots may exceed effective capacity during a failure (in-progress services
// are never discarded), in which case no grants happen until enough slots
// free up.
func (r *Resource) freeSlots() int {
	free := r.effectiveCapacity() - len(r.held)
	if free < 0 {
		return 0
	}
	return free
}

// accumulate advances the time-weighted integrals to now using the state
// held since the previous accumulation. Callers must invoke it before any
// mutation of waiting, held, or failed.
func (r *Resource) accumulate(now float64) {
	start := r.lastAccum
	if start < r.observedFrom {
		start = r.observedFrom
	}
	if now > start {
		dt := now - start
		r.busySeconds += float64(len(r.held)) * dt
		r.availSeconds += float64(r.effectiveCapacity()) * dt
		r.queueSeconds += float64(len(r.waiting)) * dt
	}
	if now > r.lastAccum {
		r.lastAccum = now
	}
}

// enqueue inserts a request according to the discipline: fifo appends,
// priority disciplines keep the queue ordered by (priority, arrival seq).
func (r *Resource) enqueue(w *waiter) {
	w.seq = r.nextSeq
	r.nextSeq++

	if r.discipline == DisciplineFIFO {
		r.waiting = append(r.waiting, w)
		return
	}

	idx := len(r.waiting)
	for i, q := range r.waiting {
		if q.priority > w.priority {
			idx = i
			break
		}
	}
	r.insertWaiter(idx, w)
}

// requeueFront re-inserts a preempted entity's request at the head of its
// priority band, ahead of equal-priority waiters.
func (r *Resource) requeueFront(w *waiter) {
	w.seq = r.nextSeq
	r.nextSeq++

	idx := len(r.waiting)
	for i, q := range r.waiting {
		if q.priority >= w.priority {
			idx = i
			break
		}
	}
	r.insertWaiter(idx, w)
}

func (r *Resource) insertWaiter(idx int, w *waiter) {
	r.waiting = append(r.waiting, nil)
	copy(r.waiting[idx+1:], r.waiting[idx:])
	r.waiting[idx] = w
}

// popNextWaiter removes and returns the queue head.
func (r *Resource) popNextWaiter() *waiter {
	w := r.waiting[0]
	r.waiting = r.waiting[1:]
	return w
}

// removeWaiter withdraws a specific queued request (reneging). Reports
// whether the request was still queued.
func (r *Resource) removeWaiter(w *waiter) bool {
	for i, q := range r.waiting {
		if q == w {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// grant creates a held slot for a request. Panics if the grant would exceed
// nominal capacity; that can only happen through an orchestration bug.
func (r *Resource) grant(w *waiter, now float64) *slot {
	if len(r.held) >= r.capacity {
		panic(fmt.Sprintf("resource %q: grant would exceed capacity %d", r.name, r.capacity))
	}
	sl := &slot{
		entity:    w.entity,
		priority:  w.priority,
		grantTime: now,
	}
	r.held = append(r.held, sl)
	return sl
}

// releaseSlot frees a held slot. Reports whether the slot was actually held;
// releasing a never-granted slot is an invariant violation handled by the
// caller.
func (r *Resource) releaseSlot(sl *slot) bool {
	for i, h := range r.held {
		if h == sl {
			r.held = append(r.held[:i], r.held[i+1:]...)
			return true
		}
	}
	return false
}

// weakestHolder returns the held slot with the numerically largest priority,
// preferring the most recent grant among ties. Nil when nothing is held.
func (r *Resource) weakestHolder() *slot {
	var weakest *slot
	for _, sl := range r.held {
		if weakest == nil || sl.priority > weakest.priority ||
			(sl.priority == weakest.priority && sl.grantTime >= weakest.grantTime) {
			weakest = sl
		}
	}
	return weakest
}

// fail takes one unit down. repair restores it.
func (r *Resource) fail() { r.failed++ }

func (r *Resource) repair() {
	if r.failed > 0 {
		r.failed--
	}
}

// Utilization is accumulated busy slot-seconds over accumulated available
// capacity-seconds, clamped to [0, 1]. Failure downtime contributes nothing
// to the denominator; the clamp covers services that straddle a failure.
func (r *Resource) Utilization() float64 {
	if r.availSeconds <= 0 {
		return 0
	}
	u := r.busySeconds / r.availSeconds
	return math.Min(1, math.Max(0, u))
}

// AvgQueueLength is the time-weighted mean queue length over the observed
// (post-warmup) span.
func (r *Resource) AvgQueueLength() float64 {
	span := r.lastAccum - r.observedFrom
	if span <= 0 {
		return 0
	}
	return r.queueSeconds / span
}
