// Error taxonomy for the simulation engine. Configuration problems surface
// before a run starts; runtime invariant violations abort only the run that
// raised them. Error text carries the offending resource, step, or rule name
// and nothing else.

package sim

import "fmt"

// ConfigReferenceError reports a rule or step referencing a resource or step
// that does not exist. Always raised by Validate, never mid-run.
type ConfigReferenceError struct {
	Kind    string // referencing object kind, e.g. "balking_rule", "step"
	Name    string // referencing object name
	RefKind string // referenced object kind: "resource" or "step"
	Ref     string // the reference that failed to resolve
}

func (e *ConfigReferenceError) Error() string {
	return fmt.Sprintf("%s %q references unknown %s %q", e.Kind, e.Name, e.RefKind, e.Ref)
}

// SimulationRuntimeError reports an internal invariant violation, such as
// releasing a slot that was never granted or a clock regression. It aborts
// the current run only; other runs in a replication batch are unaffected.
type SimulationRuntimeError struct {
	Op     string // operation that violated the invariant
	Detail string
}

func (e *SimulationRuntimeError) Error() string {
	return fmt.Sprintf("simulation runtime error in %s: %s", e.Op, e.Detail)
}
