package trace

// TraceLevel controls the verbosity of lifecycle tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures every entity lifecycle transition and grant.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// SimulationTrace collects lifecycle records during a simulation run.
type SimulationTrace struct {
	Level     TraceLevel
	Lifecycle []LifecycleRecord
	Grants    []GrantRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(level TraceLevel) *SimulationTrace {
	return &SimulationTrace{
		Level:     level,
		Lifecycle: make([]LifecycleRecord, 0),
		Grants:    make([]GrantRecord, 0),
	}
}

// RecordLifecycle appends an entity state transition record.
func (st *SimulationTrace) RecordLifecycle(record LifecycleRecord) {
	st.Lifecycle = append(st.Lifecycle, record)
}

// RecordGrant appends a resource grant record.
func (st *SimulationTrace) RecordGrant(record GrantRecord) {
	st.Grants = append(st.Grants, record)
}
