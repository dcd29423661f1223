// Package trace provides lifecycle-trace recording for per-run analysis.
// It stores pure data types and does not depend on sim/.
package trace

// Phase labels the lifecycle transition a record captures.
type Phase string

const (
	PhaseArrived   Phase = "arrived"
	PhaseCompleted Phase = "completed"
	PhaseBalked    Phase = "balked"
	PhaseReneged   Phase = "reneged"
	PhasePreempted Phase = "preempted"
)

// LifecycleRecord captures a single entity state transition.
type LifecycleRecord struct {
	EntityID int64
	Type     string
	Clock    float64
	Phase    Phase
	Resource string // resource involved, empty for arrival and completion
}

// GrantRecord captures one resource grant: when the entity got a slot, how
// long it waited, and the service duration it drew.
type GrantRecord struct {
	EntityID    int64
	Resource    string
	Clock       float64
	Wait        float64
	ServiceTime float64
}
