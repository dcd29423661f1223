// The event scheduler: simulated clock plus the pending-event heap. All
// state mutation in a run flows through dispatch of one event at a time, so
// resources never see concurrent mutation.

package sim

import "fmt"

// Scheduler owns the simulated clock and the time-ordered event queue for a
// single run.
type Scheduler struct {
	clock   float64
	horizon float64
	heap    *eventHeap
	nextSeq uint64
}

// NewScheduler creates a scheduler that will dispatch events strictly before
// the horizon.
func NewScheduler(horizon float64) *Scheduler {
	return &Scheduler{
		horizon: horizon,
		heap:    newEventHeap(),
	}
}

// Now returns the current simulated time.
func (sc *Scheduler) Now() float64 {
	return sc.clock
}

// Horizon returns the configured simulated-time horizon.
func (sc *Scheduler) Horizon() float64 {
	return sc.horizon
}

// Schedule enqueues an event delay time units from now and returns a handle
// that can cancel it before dispatch. Delay must be non-negative.
func (sc *Scheduler) Schedule(delay float64, ev Event) *EventHandle {
	if delay < 0 {
		panic(fmt.Sprintf("negative delay %v scheduling %s event", delay, ev.Kind()))
	}
	se := &scheduledEvent{
		time: sc.clock + delay,
		seq:  sc.nextSeq,
		ev:   ev,
	}
	sc.nextSeq++
	sc.heap.push(se)
	return &EventHandle{ev: se}
}

// run dispatches events in (time, kind priority, seq) order until the queue
// is exhausted or the next event falls at or beyond the horizon. On horizon
// stop the clock is advanced to the horizon; on exhaustion it stays at the
// last dispatched event's time. Cancelled events are skipped without
// advancing the clock.
func (sc *Scheduler) run(s *Simulator) {
	for {
		se := sc.heap.popNext()
		if se == nil {
			return
		}
		if se.cancelled {
			continue
		}
		if se.time >= sc.horizon {
			sc.clock = sc.horizon
			return
		}
		if se.time < sc.clock {
			panic(fmt.Sprintf("clock went backwards: %v < %v", se.time, sc.clock))
		}
		sc.clock = se.time
		se.ev.Execute(s)
	}
}

// pending reports how many events remain in the queue, cancelled entries
// included.
func (sc *Scheduler) pending() int {
	return sc.heap.Len()
}
