// Event types dispatched by the scheduler loop. Each event mutates simulator
// state through Execute; execution happens strictly one event at a time on
// the run's single dispatch thread.

package sim

import "github.com/sirupsen/logrus"

// Event is a scheduled simulation action.
type Event interface {
	Kind() EventKind
	Execute(*Simulator)
}

// EventKind classifies events and fixes their dispatch order at a shared
// simulated instant.
type EventKind string

const (
	EventRepair      EventKind = "repair"
	EventServiceDone EventKind = "service_done"
	EventArrival     EventKind = "arrival"
	EventPatience    EventKind = "patience_expired"
	EventFailure     EventKind = "failure"
)

// kindPriority orders same-time events; lower dispatches first. Repairs and
// service completions precede patience expiries so a grant scheduled for the
// same instant as a reneging timeout wins the race, and failures come last so
// a same-instant grant is honored before capacity drops.
var kindPriority = map[EventKind]int{
	EventRepair:      0,
	EventServiceDone: 1,
	EventArrival:     2,
	EventPatience:    3,
	EventFailure:     4,
}

// scheduledEvent is a heap entry: an event plus its ordering keys and
// cancellation flag.
type scheduledEvent struct {
	time      float64
	seq       uint64
	ev        Event
	cancelled bool
}

// EventHandle allows a pending event to be cancelled before dispatch.
// Reneging and preemption use it to withdraw timeouts and service
// completions that lost their race.
type EventHandle struct {
	ev *scheduledEvent
}

// Cancel turns the event's dispatch into a no-op. Idempotent; cancelling an
// already-dispatched event has no effect.
func (h *EventHandle) Cancel() {
	if h == nil || h.ev == nil {
		return
	}
	h.ev.cancelled = true
}

// fixedArrivalSpacing separates batch-mode generations so entities enter in
// ID order rather than as one same-instant burst.
const fixedArrivalSpacing = 0.1

// arrivalEvent creates and admits one entity, then schedules its successor:
// the next sampled interarrival in continuous mode, or the next batch entity
// after the fixed generation spacing.
type arrivalEvent struct {
	remaining int // batch mode: entities still to generate after this one
}

func (e *arrivalEvent) Kind() EventKind { return EventArrival }

func (e *arrivalEvent) Execute(s *Simulator) {
	ent := s.newEntity()
	logrus.WithFields(logrus.Fields{
		"entity": ent.ID,
		"type":   ent.Type,
		"time":   s.Now(),
	}).Debug("arrival")

	s.admitEntity(ent)

	switch {
	case s.arrival != nil:
		delay := s.arrival.Sample(s.rng.ForSubsystem(SubsystemArrivals))
		s.sched.Schedule(delay, &arrivalEvent{})
	case e.remaining > 0:
		s.sched.Schedule(fixedArrivalSpacing, &arrivalEvent{remaining: e.remaining - 1})
	}
}

// serviceDoneEvent completes one entity's service at one resource.
type serviceDoneEvent struct {
	resource *Resource
	slot     *slot
}

func (e *serviceDoneEvent) Kind() EventKind { return EventServiceDone }

func (e *serviceDoneEvent) Execute(s *Simulator) {
	s.finishService(e.resource, e.slot)
}

// patienceEvent fires when a queued entity's patience runs out. The handle is
// cancelled at grant time, so dispatch means the entity is still waiting.
type patienceEvent struct {
	resource *Resource
	waiter   *waiter
}

func (e *patienceEvent) Kind() EventKind { return EventPatience }

func (e *patienceEvent) Execute(s *Simulator) {
	s.renege(e.resource, e.waiter)
}

// failureEvent takes one unit of a resource out of service.
type failureEvent struct {
	resource *Resource
	rule     *FailureRule
}

func (e *failureEvent) Kind() EventKind { return EventFailure }

func (e *failureEvent) Execute(s *Simulator) {
	s.failResource(e.resource, e.rule)
}

// repairEvent restores a failed unit and re-evaluates the queue.
type repairEvent struct {
	resource *Resource
	rule     *FailureRule
}

func (e *repairEvent) Kind() EventKind { return EventRepair }

func (e *repairEvent) Execute(s *Simulator) {
	s.repairResource(e.resource, e.rule)
}
