// Entity lifecycle orchestration: step entry, balking, queueing with
// patience, granting, preemption, service completion, routing, reneging,
// and the failure/repair cycle. Every method here runs inside the dispatch
// of a single event, so resource state never sees concurrent mutation.

package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/queuesim/queuesim/sim/trace"
)

// maxStepsPerEntity bounds routing loops. A probabilistic rejection loop
// terminates almost surely long before this; hitting the bound means a
// deterministic cycle in the routing rules.
const maxStepsPerEntity = 100000

// admitEntity registers a new arrival and walks it into its first step.
func (s *Simulator) admitEntity(ent *Entity) {
	s.metrics.RecordArrival(s.Now())
	s.inFlight++
	if s.tracer != nil {
		s.tracer.RecordLifecycle(trace.LifecycleRecord{
			EntityID: ent.ID, Type: ent.Type, Clock: s.Now(), Phase: trace.PhaseArrived,
		})
	}
	s.enterStep(ent, 0)
}

// enterStep evaluates balking for the step's resource and, if the entity
// stays, queues it there. An index past the end of the step list means the
// entity has completed its route.
func (s *Simulator) enterStep(ent *Entity, idx int) {
	if idx >= len(s.steps) {
		s.complete(ent)
		return
	}
	ent.stepsTaken++
	if ent.stepsTaken > maxStepsPerEntity {
		panic(&SimulationRuntimeError{
			Op:     "routing",
			Detail: fmt.Sprintf("entity %d exceeded %d step executions, routing loop suspected", ent.ID, maxStepsPerEntity),
		})
	}
	ent.stepIdx = idx

	r := s.resources[s.steps[idx]]
	if rule := s.balkingRuleFor(r, ent); rule != nil {
		s.balk(ent, r, rule)
		return
	}
	s.request(r, ent)
}

// balkingRuleFor returns the first rule (rule-name order) that makes the
// entity refuse this resource's queue, or nil.
func (s *Simulator) balkingRuleFor(r *Resource, ent *Entity) *BalkingRule {
	rng := s.rng.ForSubsystem(SubsystemBehavior)
	for _, rule := range s.balking[r.Name()] {
		if rule.shouldBalk(r.QueueLength(), ent, rng) {
			return rule
		}
	}
	return nil
}

// request queues the entity at the resource, arms its patience timeout when
// a reneging rule applies, and tries to dispatch. Under the preemptive
// discipline a full resource may evict its weakest holder first.
func (s *Simulator) request(r *Resource, ent *Entity) {
	now := s.Now()
	r.accumulate(now)

	w := &waiter{entity: ent, priority: ent.Priority, joinTime: now}
	ent.waitStart = now
	s.armPatience(r, w)
	r.enqueue(w)

	if r.Discipline() == DisciplinePreemptive && r.freeSlots() == 0 {
		s.tryPreempt(r, ent)
	}
	s.dispatch(r)
}

// armPatience schedules the waiter's reneging timeout if the resource has a
// reneging rule.
func (s *Simulator) armPatience(r *Resource, w *waiter) {
	rule := s.reneging[r.Name()]
	if rule == nil {
		return
	}
	patience := rule.patience(w.entity, s.rng.ForSubsystem(SubsystemBehavior))
	w.patience = s.sched.Schedule(patience, &patienceEvent{resource: r, waiter: w})
}

// tryPreempt evicts the weakest holder when the arriving priority is
// strictly more urgent. Equal priority never preempts. The victim's partial
// service is discarded and it rejoins the head of its priority band with a
// fresh patience draw.
func (s *Simulator) tryPreempt(r *Resource, arriving *Entity) {
	victim := r.weakestHolder()
	if victim == nil || arriving.Priority >= victim.priority {
		return
	}
	now := s.Now()
	victim.done.Cancel()
	if !r.releaseSlot(victim) {
		panic(&SimulationRuntimeError{
			Op:     "preemption",
			Detail: fmt.Sprintf("resource %q: evicted slot was not held", r.Name()),
		})
	}
	s.metrics.RecordPreemption(now)
	logrus.WithFields(logrus.Fields{
		"entity":   victim.entity.ID,
		"by":       arriving.ID,
		"resource": r.Name(),
		"time":     now,
	}).Debug("preempted")
	if s.tracer != nil {
		s.tracer.RecordLifecycle(trace.LifecycleRecord{
			EntityID: victim.entity.ID, Type: victim.entity.Type, Clock: now,
			Phase: trace.PhasePreempted, Resource: r.Name(),
		})
	}

	w := &waiter{entity: victim.entity, priority: victim.priority, joinTime: now}
	victim.entity.waitStart = now
	s.armPatience(r, w)
	r.requeueFront(w)
}

// dispatch grants free slots to queue heads until one side runs out. Each
// grant cancels the waiter's patience, records the completed wait, and
// schedules the service completion.
func (s *Simulator) dispatch(r *Resource) {
	now := s.Now()
	r.accumulate(now)
	for r.freeSlots() > 0 && r.QueueLength() > 0 {
		w := r.popNextWaiter()
		w.patience.Cancel()

		sl := r.grant(w, now)
		wait := now - w.joinTime
		s.metrics.RecordWait(now, wait)

		svc := s.serviceTime(w.entity, r.Name())
		sl.done = s.sched.Schedule(svc, &serviceDoneEvent{resource: r, slot: sl})

		logrus.WithFields(logrus.Fields{
			"entity":   w.entity.ID,
			"resource": r.Name(),
			"wait":     wait,
			"service":  svc,
			"time":     now,
		}).Debug("grant")
		if s.tracer != nil {
			s.tracer.RecordGrant(trace.GrantRecord{
				EntityID: w.entity.ID, Resource: r.Name(), Clock: now,
				Wait: wait, ServiceTime: svc,
			})
		}
	}
}

// serviceTime samples the entity's service duration at a step: a
// conditional distribution for its type wins, then the step default, then
// the global fallback.
func (s *Simulator) serviceTime(ent *Entity, step string) float64 {
	rng := s.rng.ForSubsystem(SubsystemService)
	ss := s.serviceSamplers[step]
	if sam, ok := ss.conditional[ent.Type]; ok {
		return sam.Sample(rng)
	}
	if ss.dflt != nil {
		return ss.dflt.Sample(rng)
	}
	return s.fallbackService.Sample(rng)
}

// finishService releases the slot, hands the freed capacity to the next
// waiter, and routes the entity onward. The queue is dispatched before the
// entity re-enters so a loop back to the same resource takes a fair
// position behind existing waiters.
func (s *Simulator) finishService(r *Resource, sl *slot) {
	now := s.Now()
	r.accumulate(now)
	if !r.releaseSlot(sl) {
		panic(&SimulationRuntimeError{
			Op:     "release",
			Detail: fmt.Sprintf("resource %q: released slot was never granted", r.Name()),
		})
	}
	s.dispatch(r)
	s.enterStep(sl.entity, s.nextStepIndex(sl.entity, r.Name()))
}

// nextStepIndex applies the step's after-routing rule. Without a rule, or
// when no condition matches and no default is set, the entity falls through
// to the next configured step.
func (s *Simulator) nextStepIndex(ent *Entity, step string) int {
	rule := s.routing[step]
	if rule == nil {
		return ent.stepIdx + 1
	}
	dest, ok := rule.nextDestination(ent, s.rng.ForSubsystem(SubsystemBehavior))
	if !ok {
		return ent.stepIdx + 1
	}
	return s.stepIndex[dest]
}

// renege handles a fired patience timeout: the waiter leaves the queue and
// its entity terminates. Grants cancel the patience handle, so a dispatched
// timeout must still find its waiter queued.
func (s *Simulator) renege(r *Resource, w *waiter) {
	now := s.Now()
	r.accumulate(now)
	if !r.removeWaiter(w) {
		panic(&SimulationRuntimeError{
			Op:     "renege",
			Detail: fmt.Sprintf("resource %q: reneging waiter was not queued", r.Name()),
		})
	}
	ent := w.entity
	ent.Outcome = OutcomeReneged
	s.inFlight--
	s.metrics.RecordRenege(now)
	logrus.WithFields(logrus.Fields{
		"entity":   ent.ID,
		"resource": r.Name(),
		"waited":   now - w.joinTime,
		"time":     now,
	}).Debug("reneged")
	if s.tracer != nil {
		s.tracer.RecordLifecycle(trace.LifecycleRecord{
			EntityID: ent.ID, Type: ent.Type, Clock: now,
			Phase: trace.PhaseReneged, Resource: r.Name(),
		})
	}
}

// balk terminates an entity that refused to join a queue.
func (s *Simulator) balk(ent *Entity, r *Resource, rule *BalkingRule) {
	now := s.Now()
	ent.Outcome = OutcomeBalked
	s.inFlight--
	s.metrics.RecordBalk(now)
	logrus.WithFields(logrus.Fields{
		"entity":   ent.ID,
		"resource": r.Name(),
		"rule":     rule.Name,
		"queue":    r.QueueLength(),
		"time":     now,
	}).Debug("balked")
	if s.tracer != nil {
		s.tracer.RecordLifecycle(trace.LifecycleRecord{
			EntityID: ent.ID, Type: ent.Type, Clock: now,
			Phase: trace.PhaseBalked, Resource: r.Name(),
		})
	}
}

// complete records a successful departure.
func (s *Simulator) complete(ent *Entity) {
	now := s.Now()
	ent.Outcome = OutcomeCompleted
	s.inFlight--
	s.metrics.RecordCompletion(now, ent.Value)
	logrus.WithFields(logrus.Fields{
		"entity": ent.ID,
		"value":  ent.Value,
		"time":   now,
	}).Debug("completed")
	if s.tracer != nil {
		s.tracer.RecordLifecycle(trace.LifecycleRecord{
			EntityID: ent.ID, Type: ent.Type, Clock: now, Phase: trace.PhaseCompleted,
		})
	}
}

// failResource takes one capacity unit down and schedules its repair.
// In-progress services continue; the lost unit only blocks new grants.
func (s *Simulator) failResource(r *Resource, rule *FailureRule) {
	now := s.Now()
	r.accumulate(now)
	r.fail()
	logrus.WithFields(logrus.Fields{
		"resource":  r.Name(),
		"rule":      rule.Name,
		"effective": r.effectiveCapacity(),
		"time":      now,
	}).Debug("failure")

	delay := rule.RepairTime.Sample(s.rng.ForSubsystem(SubsystemFailures))
	s.sched.Schedule(delay, &repairEvent{resource: r, rule: rule})
}

// repairResource restores the failed unit, re-evaluates the queue, and arms
// the next failure clock.
func (s *Simulator) repairResource(r *Resource, rule *FailureRule) {
	now := s.Now()
	r.accumulate(now)
	r.repair()
	logrus.WithFields(logrus.Fields{
		"resource":  r.Name(),
		"rule":      rule.Name,
		"effective": r.effectiveCapacity(),
		"time":      now,
	}).Debug("repaired")
	s.dispatch(r)

	delay := rule.MTBF.Sample(s.rng.ForSubsystem(SubsystemFailures))
	s.sched.Schedule(delay, &failureEvent{resource: r, rule: rule})
}
