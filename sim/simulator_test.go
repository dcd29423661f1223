package sim

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/queuesim/queuesim/sim/trace"
)

// Constant interarrival 5 against constant service 3 on a single server:
// every quantity of the run is computable by hand.
const deterministicQueueYAML = `
run_time: 100
arrival_pattern:
  distribution: "constant(5)"
entity_types:
  customer:
    probability: 1.0
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "constant(3)"
`

func TestRun_DeterministicQueue_ExactMetrics(t *testing.T) {
	s, res := mustRun(t, deterministicQueueYAML, 42)

	// Arrivals at 0, 5, ..., 95; the t=100 arrival is at the horizon and
	// never dispatches. Every service ends before the next arrival.
	want := map[string]float64{
		"entities_arrived_count":                20,
		"entities_served_count":                 20,
		"total_value":                           0,
		"entities_served_processing_efficiency": 100,
		"average_wait_time":                     0,
		"max_wait_time":                         0,
		"min_wait_time":                         0,
		"service_utilization":                   0.6,
	}
	if !reflect.DeepEqual(res.Metrics, want) {
		t.Errorf("metrics = %v, want %v", res.Metrics, want)
	}
	if s.Now() != 100 {
		t.Errorf("clock = %v, want horizon 100", s.Now())
	}
	if res.Metadata.SampleSize != 1 {
		t.Errorf("sample size = %d, want 1", res.Metadata.SampleSize)
	}
}

func TestRun_FixedEntityCount_QueueBuildsUp(t *testing.T) {
	// Five entities spaced 0.1 apart against a single server with constant
	// service 1: waits are 0, 0.9, 1.8, 2.7, 3.6.
	s, res := mustRun(t, `
run_time: 100
num_entities: 5
entity_types:
  job:
    probability: 1.0
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "constant(1)"
`, 1)

	want := map[string]float64{
		"entities_arrived_count":                5,
		"entities_served_count":                 5,
		"total_value":                           0,
		"entities_served_processing_efficiency": 100,
		"average_wait_time":                     1.8,
		"max_wait_time":                         3.6,
		"min_wait_time":                         0,
		"service_utilization":                   1,
	}
	if !reflect.DeepEqual(res.Metrics, want) {
		t.Errorf("metrics = %v, want %v", res.Metrics, want)
	}
	// Events run out after the last completion; the clock stays there.
	if s.Now() != 5 {
		t.Errorf("clock = %v, want 5 (last completion)", s.Now())
	}
}

func TestRun_WarmupExcludesEarlyObservations(t *testing.T) {
	_, res := mustRun(t, `
run_time: 20
arrival_pattern:
  distribution: "constant(2)"
entity_types:
  customer:
    probability: 1.0
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "constant(1)"
statistics:
  warmup_period: 10
`, 42)

	// Arrivals at 0,2,...,18: five fall at t>=10. Completions at odd times:
	// five at t>=10. Utilization observes [10,20] only: busy half of it.
	want := map[string]float64{
		"entities_arrived_count":                5,
		"entities_served_count":                 5,
		"total_value":                           0,
		"entities_served_processing_efficiency": 100,
		"average_wait_time":                     0,
		"max_wait_time":                         0,
		"min_wait_time":                         0,
		"service_utilization":                   0.5,
	}
	if !reflect.DeepEqual(res.Metrics, want) {
		t.Errorf("metrics = %v, want %v", res.Metrics, want)
	}
}

func TestRun_QueueLengthBalking(t *testing.T) {
	// Service takes 10 while arrivals come every 1: the queue caps at 2 and
	// later arrivals balk until the t=10 completion frees a position.
	_, res := mustRun(t, `
run_time: 12
arrival_pattern:
  distribution: "constant(1)"
entity_types:
  customer:
    probability: 1.0
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "constant(10)"
balking_rules:
  service:
    type: queue_length
    max_length: 2
`, 42)

	checks := map[string]float64{
		"entities_arrived_count":                12,
		"entities_served_count":                 1,
		"entities_balked_count":                 8,
		"entities_served_processing_efficiency": 8.33,
		"average_wait_time":                     4.5,
		"max_wait_time":                         9,
		"service_utilization":                   1,
	}
	for k, v := range checks {
		if res.Metrics[k] != v {
			t.Errorf("%s = %v, want %v", k, res.Metrics[k], v)
		}
	}
}

func TestRun_RenegingDrainsTheQueue(t *testing.T) {
	// One endless service blocks the server; everyone queued abandons after
	// a constant patience of 2.
	_, res := mustRun(t, `
run_time: 6
arrival_pattern:
  distribution: "constant(1)"
entity_types:
  customer:
    probability: 1.0
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "constant(10)"
reneging_rules:
  service:
    abandon_time: "constant(2)"
`, 42)

	checks := map[string]float64{
		"entities_arrived_count": 6,
		"entities_reneged_count": 3,
		"service_utilization":    1,
	}
	for k, v := range checks {
		if res.Metrics[k] != v {
			t.Errorf("%s = %v, want %v", k, res.Metrics[k], v)
		}
	}
	if _, ok := res.Metrics["entities_served_count"]; ok {
		t.Error("nothing completes within the horizon; served count must be absent")
	}
}

func TestRun_FailureCycle_ServiceSurvivesDowntime(t *testing.T) {
	// Deterministic failure clock: down at 3, 8, 13, 18 for 2 each. Both
	// services straddle downtime and still finish; utilization clamps at 1
	// because busy time exceeds the shrunken availability.
	_, res := mustRun(t, `
run_time: 20
arrival_pattern:
  distribution: "constant(10)"
entity_types:
  part:
    probability: 1.0
resources:
  machine:
    capacity: 1
processing_rules:
  steps: [machine]
  machine:
    distribution: "constant(8)"
basic_failures:
  machine:
    mtbf: "constant(3)"
    repair_time: "constant(2)"
`, 42)

	checks := map[string]float64{
		"entities_arrived_count": 2,
		"entities_served_count":  2,
		"machine_utilization":    1,
	}
	for k, v := range checks {
		if res.Metrics[k] != v {
			t.Errorf("%s = %v, want %v", k, res.Metrics[k], v)
		}
	}
}

func TestRun_RoutingSkipsAndFallsThrough(t *testing.T) {
	routedYAML := `
run_time: 100
num_entities: 1
entity_types:
  walkin:
    probability: 1.0
    attributes:
      severity: %s
resources:
  exam:
    capacity: 1
  imaging:
    capacity: 1
  checkout:
    capacity: 1
processing_rules:
  steps: [exam, imaging, checkout]
  exam:
    distribution: "constant(1)"
  imaging:
    distribution: "constant(1)"
  checkout:
    distribution: "constant(1)"
simple_routing:
  after_exam:
    conditions:
      - attribute: severity
        value: low
        destination: checkout
`

	t.Run("matching condition skips a step", func(t *testing.T) {
		s, res := mustRun(t, fmt.Sprintf(routedYAML, "low"), 42)
		if s.Now() != 2 {
			t.Errorf("clock = %v, want 2 (imaging skipped)", s.Now())
		}
		if res.Metrics["imaging_utilization"] != 0 {
			t.Errorf("imaging_utilization = %v, want 0", res.Metrics["imaging_utilization"])
		}
	})

	t.Run("unmatched condition falls through in step order", func(t *testing.T) {
		s, res := mustRun(t, fmt.Sprintf(routedYAML, "high"), 42)
		if s.Now() != 3 {
			t.Errorf("clock = %v, want 3 (all three steps)", s.Now())
		}
		if res.Metrics["imaging_utilization"] == 0 {
			t.Error("imaging must be visited on fall-through")
		}
	})
}

func TestRun_RoutingLoop_AbortsWithRuntimeError(t *testing.T) {
	// An always-true attribute condition routing back to the same step can
	// never terminate; the step bound converts it into a run error.
	s, err := New(mustConfig(t, `
run_time: 10
num_entities: 1
entity_types:
  widget:
    probability: 1.0
    attributes:
      grade: rework
resources:
  station:
    capacity: 1
processing_rules:
  steps: [station]
  station:
    distribution: "constant(0)"
simple_routing:
  after_station:
    conditions:
      - attribute: grade
        value: rework
        destination: station
`), 42)
	if err != nil {
		t.Fatalf("build simulator: %v", err)
	}

	_, err = s.Run()
	var simErr *SimulationRuntimeError
	if !errors.As(err, &simErr) {
		t.Fatalf("want SimulationRuntimeError, got %v", err)
	}
	if simErr.Op != "routing" {
		t.Errorf("op = %q, want routing", simErr.Op)
	}
}

func TestRun_ConditionalServiceDistributionWinsOverDefault(t *testing.T) {
	s, _ := mustRun(t, `
run_time: 100
num_entities: 1
entity_types:
  rush:
    probability: 1.0
resources:
  mill:
    capacity: 1
processing_rules:
  steps: [mill]
  mill:
    distribution: "constant(7)"
    conditional_distributions:
      rush: "constant(2)"
`, 42)

	if s.Now() != 2 {
		t.Errorf("clock = %v, want 2 (conditional service time)", s.Now())
	}
}

func TestRun_UnconfiguredStepUsesFallbackService(t *testing.T) {
	// No processing_rules at all: the single default resource serves with
	// the uniform(1, 3) fallback.
	s, _ := mustRun(t, `
run_time: 100
num_entities: 1
entity_types:
  job:
    probability: 1.0
`, 42)

	if s.Now() < 1 || s.Now() >= 3 {
		t.Errorf("completion at %v, want within [1, 3)", s.Now())
	}
}

func TestRun_SameSeedSameResults(t *testing.T) {
	// GIVEN a configuration exercising every random stream: arrivals,
	// service, entity mix, balking, and reneging
	stochasticYAML := `
run_time: 300
arrival_pattern:
  distribution: "exp(2)"
entity_types:
  gold:
    probability: 0.3
    priority: 2
    value:
      min: 5
      max: 10
  standard:
    probability: 0.7
    priority: 7
    value:
      min: 1
      max: 2
resources:
  desk:
    capacity: 2
    resource_type: priority
processing_rules:
  steps: [desk]
  desk:
    distribution: "exp(1.5)"
    conditional_distributions:
      gold: "constant(1)"
balking_rules:
  desk:
    type: probability
    probability: 0.15
reneging_rules:
  desk:
    abandon_time: "constant(6)"
`

	// WHEN the same seed runs twice and a different seed runs once
	_, first := mustRun(t, stochasticYAML, 7)
	_, second := mustRun(t, stochasticYAML, 7)
	_, other := mustRun(t, stochasticYAML, 8)

	// THEN equal seeds reproduce the metric map exactly and the different
	// seed diverges
	if !reflect.DeepEqual(first.Metrics, second.Metrics) {
		t.Errorf("same seed diverged:\n%v\n%v", first.Metrics, second.Metrics)
	}
	if reflect.DeepEqual(first.Metrics, other.Metrics) {
		t.Error("different seeds produced identical metrics")
	}
}

func TestRun_PreemptiveResource_EvictsWeakerHolders(t *testing.T) {
	// GIVEN an underloaded preemptive server with a mixed-priority
	// population, so routine holders are regularly caught by urgent arrivals
	_, res := mustRun(t, `
run_time: 1000
arrival_pattern:
  distribution: "exp(1)"
entity_types:
  urgent:
    probability: 0.5
    priority: 1
  routine:
    probability: 0.5
    priority: 9
resources:
  channel:
    capacity: 1
    resource_type: preemptive
processing_rules:
  steps: [channel]
  channel:
    distribution: "constant(0.4)"
`, 42)

	// THEN preemptions occur and the run stays conservation-clean
	if res.Metrics["preemptions_count"] < 1 {
		t.Errorf("preemptions_count = %v, want >= 1", res.Metrics["preemptions_count"])
	}
	if res.Metrics["entities_arrived_count"] < 500 {
		t.Errorf("arrived = %v, implausibly low for rate-1 arrivals over 1000", res.Metrics["entities_arrived_count"])
	}
}

func TestRun_EntityMixFollowsProbabilities(t *testing.T) {
	// GIVEN 2000 entities split 30/70 between values 10 and 1
	_, res := mustRun(t, `
run_time: 300
num_entities: 2000
entity_types:
  gold:
    probability: 0.3
    value:
      min: 10
      max: 10
  silver:
    probability: 0.7
    value:
      min: 1
      max: 1
resources:
  service:
    capacity: 10
processing_rules:
  steps: [service]
  service:
    distribution: "constant(0.01)"
`, 42)

	// THEN all complete and the accumulated value sits near the expected
	// 2000 * (0.3*10 + 0.7*1) = 7400 (4 sigma of the binomial split is
	// roughly 740)
	if res.Metrics["entities_served_count"] != 2000 {
		t.Errorf("served = %v, want 2000", res.Metrics["entities_served_count"])
	}
	total := res.Metrics["total_value"]
	if math.Abs(total-7400) > 750 {
		t.Errorf("total_value = %v, want within 750 of 7400", total)
	}
}

func TestRun_TraceRecordsLifecycleAndGrants(t *testing.T) {
	s, err := New(mustConfig(t, deterministicQueueYAML), 42)
	if err != nil {
		t.Fatalf("build simulator: %v", err)
	}
	tr := trace.NewSimulationTrace(trace.TraceLevelEvents)
	s.AttachTrace(tr)
	if _, err := s.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	var arrived, completed int
	for _, rec := range tr.Lifecycle {
		switch rec.Phase {
		case trace.PhaseArrived:
			arrived++
		case trace.PhaseCompleted:
			completed++
		}
	}
	if arrived != 20 || completed != 20 {
		t.Errorf("lifecycle arrived/completed = %d/%d, want 20/20", arrived, completed)
	}
	if len(tr.Grants) != 20 {
		t.Fatalf("grants = %d, want 20", len(tr.Grants))
	}
	g := tr.Grants[0]
	if g.Resource != "service" || g.Wait != 0 || g.ServiceTime != 3 {
		t.Errorf("first grant = %+v, want service/0/3", g)
	}
}

func TestNew_SeedIsExposed(t *testing.T) {
	s, err := New(mustConfig(t, deterministicQueueYAML), 99)
	if err != nil {
		t.Fatalf("build simulator: %v", err)
	}
	if s.Seed() != 99 {
		t.Errorf("seed = %d, want 99", s.Seed())
	}
}

func TestNew_InvalidConfigRejected(t *testing.T) {
	cfg := mustConfig(t, deterministicQueueYAML)
	cfg.NumEntities = 10 // both arrival modes set

	if _, err := New(cfg, 1); err == nil {
		t.Error("want validation error for conflicting arrival modes")
	}
}
