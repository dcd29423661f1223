// Package sim provides the core discrete-event simulation engine for
// queuesim.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - entity.go: Entity lifecycle (arrived → queued → served → completed) and terminal outcomes
//   - event.go: Event types that drive the simulation (arrival, serviceDone, patience, failure, repair)
//   - simulator.go: Simulator construction, the run loop, and result assembly
//
// # Architecture
//
// One run is one Simulator: a clock, an event heap, and a set of
// capacity-bounded resources, all mutated from a single dispatch loop. The
// sub-packages hold the pieces that are useful outside a run:
//   - sim/workload/: distribution specification parsing and samplers
//   - sim/trace/: entity lifecycle trace recording and summarization
//   - sim/replication/: independent multi-run execution and statistical analysis
//
// # Determinism
//
// Every random draw flows through a PartitionedRNG: the master seed is
// mixed with a subsystem name (entities, arrivals, service, behavior,
// failures) so that enabling one behavior rule never shifts the draws of an
// unrelated stream. Two runs with the same configuration and seed produce
// identical results.
//
// # Behavior Rules
//
// Queue behavior beyond plain waiting lives in rules.go:
//   - BalkingRule: refuse to join a queue, by length threshold or probability
//   - RenegingRule: abandon a queue after a sampled patience expires
//   - RoutingRule: choose the next step after service by attribute predicates
//   - FailureRule: take resource capacity down and back up on sampled cycles
package sim
