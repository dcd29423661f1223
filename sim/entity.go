// Defines the Entity struct that models a single simulated unit flowing
// through the configured steps. Tracks identity, sampled value, routing
// attributes, and the terminal outcome.

package sim

import "fmt"

// Outcome is an entity's terminal state. The zero value means the entity is
// still in the system.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeBalked    Outcome = "balked"
	OutcomeReneged   Outcome = "reneged"
)

// Entity is one simulated unit. It is owned exclusively by its process until
// it reaches a terminal state; nothing mutates it across runs.
type Entity struct {
	ID       int64
	Type     string
	Priority int     // lower number = served first
	Value    float64 // sampled once at creation from the configured range

	// Attributes drive routing predicates. Values are string, float64, or
	// bool; the engine injects "priority", "entity_type", and "value".
	Attributes map[string]any

	ArrivalTime float64
	Outcome     Outcome

	stepIdx    int     // index into the configured step list
	stepsTaken int     // total step executions, loop guard
	waitStart  float64 // queue-join time at the current step
}

// Terminal reports whether the entity has reached a terminal state.
func (e *Entity) Terminal() bool {
	return e.Outcome != ""
}

// String returns a short human-readable description for logs.
func (e *Entity) String() string {
	return fmt.Sprintf("entity %d (%s, priority %d)", e.ID, e.Type, e.Priority)
}
