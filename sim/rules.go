// Behavioral rules: balking, reneging, conditional routing, and resource
// failure cycles. Rules are immutable once built from configuration; the
// simulator evaluates them at fixed trigger points (queue-join, while
// queued, after service, failure-clock expiry).

package sim

import (
	"math/rand/v2"
	"strconv"

	"github.com/queuesim/queuesim/sim/workload"
)

// Balking rule types.
const (
	BalkQueueLength = "queue_length"
	BalkProbability = "probability"
)

// BalkingRule rejects entities at queue-join time, before they occupy a
// queue position.
type BalkingRule struct {
	Name                string
	Type                string // BalkQueueLength or BalkProbability
	Resource            string
	MaxLength           float64 // queue_length form
	Probability         float64 // probability form
	PriorityMultipliers map[string]float64
}

// shouldBalk reports whether an entity refuses to join the queue. The
// queue_length form balks when length >= max_length x multiplier; the
// probability form draws independently of queue length.
func (r *BalkingRule) shouldBalk(queueLen int, e *Entity, rng *rand.Rand) bool {
	switch r.Type {
	case BalkQueueLength:
		return float64(queueLen) >= r.MaxLength*priorityMultiplier(r.PriorityMultipliers, e.Priority)
	case BalkProbability:
		return rng.Float64() < r.Probability*priorityMultiplier(r.PriorityMultipliers, e.Priority)
	}
	return false
}

// RenegingRule bounds how long entities wait in a resource's queue.
type RenegingRule struct {
	Name                string
	Resource            string
	AbandonTime         workload.Sampler
	PriorityMultipliers map[string]float64
}

// patience samples the entity's tolerance for waiting, scaled by its
// priority multiplier. A larger multiplier means more patient.
func (r *RenegingRule) patience(e *Entity, rng *rand.Rand) float64 {
	return r.AbandonTime.Sample(rng) * priorityMultiplier(r.PriorityMultipliers, e.Priority)
}

// FailureRule drives a resource's independent failure/repair cycle.
type FailureRule struct {
	Name       string
	Resource   string
	MTBF       workload.Sampler
	RepairTime workload.Sampler
}

// RoutingCondition is one predicate in an after-step routing rule. Exactly
// one form is populated: the attribute form (Attribute, Operator, Value) or
// the probability form (Probability). Validation enforces the shape.
type RoutingCondition struct {
	Attribute   string
	Operator    string
	Value       any
	Probability float64
	Destination string
}

// RoutingRule picks the next step after service at a step completes.
type RoutingRule struct {
	Name               string
	Step               string // the step this rule fires after
	Conditions         []RoutingCondition
	DefaultDestination string
}

// nextDestination evaluates conditions in declared order; the first match
// wins, else the default destination when set. ok=false means fall through
// to the next configured step.
func (r *RoutingRule) nextDestination(e *Entity, rng *rand.Rand) (dest string, ok bool) {
	for i := range r.Conditions {
		c := &r.Conditions[i]
		if c.Attribute != "" {
			v, present := e.Attributes[c.Attribute]
			if present && compareValues(v, c.Operator, c.Value) {
				return c.Destination, true
			}
			continue
		}
		if rng.Float64() < c.Probability {
			return c.Destination, true
		}
	}
	if r.DefaultDestination != "" {
		return r.DefaultDestination, true
	}
	return "", false
}

// priorityMultiplier looks up a priority's scaling factor, defaulting to 1.0
// when the priority has no entry. Keys are stringified priorities, matching
// the configuration shape.
func priorityMultiplier(m map[string]float64, priority int) float64 {
	if m == nil {
		return 1
	}
	if v, ok := m[strconv.Itoa(priority)]; ok {
		return v
	}
	return 1
}

// compareValues applies a routing operator to an attribute value and a
// condition value. Numbers compare numerically, strings lexicographically,
// bools support equality only. Mismatched types never match.
func compareValues(entityVal any, op string, condVal any) bool {
	if a, b, ok := bothNumbers(entityVal, condVal); ok {
		switch op {
		case "==":
			return a == b
		case "!=":
			return a != b
		case ">":
			return a > b
		case "<":
			return a < b
		case ">=":
			return a >= b
		case "<=":
			return a <= b
		}
		return false
	}

	if a, aok := entityVal.(string); aok {
		b, bok := condVal.(string)
		if !bok {
			return false
		}
		switch op {
		case "==":
			return a == b
		case "!=":
			return a != b
		case ">":
			return a > b
		case "<":
			return a < b
		case ">=":
			return a >= b
		case "<=":
			return a <= b
		}
		return false
	}

	if a, aok := entityVal.(bool); aok {
		b, bok := condVal.(bool)
		if !bok {
			return false
		}
		switch op {
		case "==":
			return a == b
		case "!=":
			return a != b
		}
		return false
	}

	return false
}

// bothNumbers normalizes the numeric types YAML and JSON decoding produce.
func bothNumbers(a, b any) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
