// sim/simulator.go
//
// Core single-run simulator: builds the runtime structures from a validated
// configuration and drives the event loop to the horizon.
package sim

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/queuesim/queuesim/sim/trace"
	"github.com/queuesim/queuesim/sim/workload"
)

// defaultServiceDistribution is the fallback when a step configures no
// service-time distribution.
const defaultServiceDistribution = "uniform(1, 3)"

// stepSamplers holds one step's service-time distributions.
type stepSamplers struct {
	dflt        workload.Sampler
	conditional map[string]workload.Sampler // entity type → sampler, wins over dflt
}

// Simulator executes one run: one clock, one event queue, one set of
// resources, fully deterministic given its seed. A Simulator is single-shot;
// build a fresh one per run.
type Simulator struct {
	cfg   *Config
	sched *Scheduler
	rng   *PartitionedRNG

	metrics *Collector
	tracer  *trace.SimulationTrace // nil = tracing off

	resources map[string]*Resource
	steps     []string       // configured step order
	stepIndex map[string]int // step name → first position in steps

	serviceSamplers map[string]stepSamplers
	fallbackService workload.Sampler
	arrival         workload.Sampler // nil in fixed-count mode

	balking  map[string][]*BalkingRule // resource → rules in rule-name order
	reneging map[string]*RenegingRule  // resource → first applicable rule
	routing  map[string]*RoutingRule   // step → after-step rule
	failures []*FailureRule

	// Entity mix: cumulative probabilities over the sorted type names.
	typeNames []string
	typeCum   []float64

	nextEntityID int64
	inFlight     int64
}

// New builds a simulator from a configuration. The configuration is
// normalized and validated first; the seed fixes every random stream of the
// run.
func New(cfg *Config, seed int64) (*Simulator, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Simulator{
		cfg:             cfg,
		sched:           NewScheduler(cfg.RunTime),
		rng:             NewPartitionedRNG(seed),
		metrics:         newCollector(cfg.metricNames(), *cfg.Statistics),
		resources:       make(map[string]*Resource, len(cfg.Resources)),
		steps:           cfg.ProcessingRules.Steps,
		stepIndex:       make(map[string]int, len(cfg.ProcessingRules.Steps)),
		serviceSamplers: make(map[string]stepSamplers, len(cfg.ProcessingRules.StepRules)),
		balking:         make(map[string][]*BalkingRule),
		reneging:        make(map[string]*RenegingRule),
		routing:         make(map[string]*RoutingRule),
	}

	for name, rc := range cfg.Resources {
		s.resources[name] = newResource(name, rc.Capacity, Discipline(rc.ResourceType), cfg.Statistics.WarmupPeriod)
	}
	for i, step := range s.steps {
		// A repeated step keeps its first position; routing jumps land there.
		if _, ok := s.stepIndex[step]; !ok {
			s.stepIndex[step] = i
		}
	}

	var err error
	if s.fallbackService, err = workload.ParseDistribution(defaultServiceDistribution); err != nil {
		return nil, err
	}
	for step, sc := range cfg.ProcessingRules.StepRules {
		ss := stepSamplers{}
		if sc.Distribution != "" {
			if ss.dflt, err = workload.ParseDistribution(sc.Distribution); err != nil {
				return nil, fmt.Errorf("processing_rules.%s: %w", step, err)
			}
		}
		if len(sc.ConditionalDistributions) > 0 {
			ss.conditional = make(map[string]workload.Sampler, len(sc.ConditionalDistributions))
			for typ, spec := range sc.ConditionalDistributions {
				if ss.conditional[typ], err = workload.ParseDistribution(spec); err != nil {
					return nil, fmt.Errorf("processing_rules.%s.conditional_distributions.%s: %w", step, typ, err)
				}
			}
		}
		s.serviceSamplers[step] = ss
	}

	if cfg.ArrivalPattern != nil {
		if s.arrival, err = workload.ParseDistribution(cfg.ArrivalPattern.Distribution); err != nil {
			return nil, fmt.Errorf("arrival_pattern: %w", err)
		}
	}

	for _, name := range sortedKeys(cfg.BalkingRules) {
		rc := cfg.BalkingRules[name]
		s.balking[rc.Resource] = append(s.balking[rc.Resource], &BalkingRule{
			Name:                name,
			Type:                rc.Type,
			Resource:            rc.Resource,
			MaxLength:           rc.MaxLength,
			Probability:         rc.Probability,
			PriorityMultipliers: rc.PriorityMultipliers,
		})
	}

	for _, name := range sortedKeys(cfg.RenegingRules) {
		rc := cfg.RenegingRules[name]
		if _, exists := s.reneging[rc.Resource]; exists {
			// First rule in name order wins per resource.
			continue
		}
		sampler, perr := workload.ParseDistribution(rc.AbandonTime)
		if perr != nil {
			return nil, fmt.Errorf("reneging_rules.%s: %w", name, perr)
		}
		s.reneging[rc.Resource] = &RenegingRule{
			Name:                name,
			Resource:            rc.Resource,
			AbandonTime:         sampler,
			PriorityMultipliers: rc.PriorityMultipliers,
		}
	}

	for _, name := range sortedKeys(cfg.SimpleRouting) {
		rc := cfg.SimpleRouting[name]
		step := strings.TrimPrefix(name, "after_")
		conds := make([]RoutingCondition, len(rc.Conditions))
		for i, cc := range rc.Conditions {
			conds[i] = RoutingCondition{
				Attribute:   cc.Attribute,
				Operator:    cc.Operator,
				Value:       cc.Value,
				Probability: cc.Probability,
				Destination: cc.Destination,
			}
		}
		s.routing[step] = &RoutingRule{
			Name:               name,
			Step:               step,
			Conditions:         conds,
			DefaultDestination: rc.DefaultDestination,
		}
	}

	for _, name := range sortedKeys(cfg.BasicFailures) {
		rc := cfg.BasicFailures[name]
		mtbf, perr := workload.ParseDistribution(rc.MTBF)
		if perr != nil {
			return nil, fmt.Errorf("basic_failures.%s.mtbf: %w", name, perr)
		}
		repair, perr := workload.ParseDistribution(rc.RepairTime)
		if perr != nil {
			return nil, fmt.Errorf("basic_failures.%s.repair_time: %w", name, perr)
		}
		s.failures = append(s.failures, &FailureRule{
			Name:       name,
			Resource:   rc.Resource,
			MTBF:       mtbf,
			RepairTime: repair,
		})
	}

	s.typeNames = sortedKeys(cfg.EntityTypes)
	s.typeCum = make([]float64, len(s.typeNames))
	cum := 0.0
	for i, name := range s.typeNames {
		cum += cfg.EntityTypes[name].Probability
		s.typeCum[i] = cum
	}

	return s, nil
}

// Now returns the current simulated time.
func (s *Simulator) Now() float64 { return s.sched.Now() }

// Seed returns the master seed of this run's random streams.
func (s *Simulator) Seed() int64 { return s.rng.Seed() }

// AttachTrace turns on lifecycle recording into the given trace.
func (s *Simulator) AttachTrace(t *trace.SimulationTrace) { s.tracer = t }

// Resource exposes a resource by name, mainly for inspection in tests.
func (s *Simulator) Resource(name string) *Resource { return s.resources[name] }

// newEntity draws the next entity: its type from the configured mix, its
// value uniform in the type's range, and its attributes copied from the
// type with the standard injections.
func (s *Simulator) newEntity() *Entity {
	rng := s.rng.ForSubsystem(SubsystemEntities)
	s.nextEntityID++
	typ := s.drawEntityType(rng)
	tc := s.cfg.EntityTypes[typ]

	value := tc.Value.Min
	if tc.Value.Max > tc.Value.Min {
		value = tc.Value.Min + rng.Float64()*(tc.Value.Max-tc.Value.Min)
	}

	attrs := make(map[string]any, len(tc.Attributes)+3)
	for k, v := range tc.Attributes {
		attrs[k] = v
	}
	attrs["priority"] = *tc.Priority
	attrs["entity_type"] = typ
	attrs["value"] = value

	return &Entity{
		ID:          s.nextEntityID,
		Type:        typ,
		Priority:    *tc.Priority,
		Value:       value,
		Attributes:  attrs,
		ArrivalTime: s.Now(),
	}
}

// drawEntityType picks a type by cumulative probability over the sorted
// type names. The tolerance on the probability mass can leave a sliver at
// the top of [0, 1); that falls back to the first type.
func (s *Simulator) drawEntityType(rng *rand.Rand) string {
	u := rng.Float64()
	for i, cum := range s.typeCum {
		if u <= cum {
			return s.typeNames[i]
		}
	}
	return s.typeNames[0]
}

// Run executes the simulation to its horizon (or event exhaustion) and
// builds the result. Internal invariant violations are recovered into a
// SimulationRuntimeError; they abort only this run.
func (s *Simulator) Run() (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if simErr, ok := rec.(*SimulationRuntimeError); ok {
				err = simErr
				return
			}
			err = &SimulationRuntimeError{Op: "run", Detail: fmt.Sprint(rec)}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"seed":    s.rng.Seed(),
		"horizon": s.sched.Horizon(),
	}).Info("simulation started")

	switch {
	case s.arrival != nil:
		s.sched.Schedule(0, &arrivalEvent{})
	case s.cfg.NumEntities > 0:
		s.sched.Schedule(0, &arrivalEvent{remaining: s.cfg.NumEntities - 1})
	}
	for _, rule := range s.failures {
		r := s.resources[rule.Resource]
		delay := rule.MTBF.Sample(s.rng.ForSubsystem(SubsystemFailures))
		s.sched.Schedule(delay, &failureEvent{resource: r, rule: rule})
	}

	s.sched.run(s)

	elapsed := s.sched.Now()
	for _, r := range s.resources {
		r.accumulate(elapsed)
	}

	if !s.metrics.conservationHolds(s.inFlight) {
		return Result{}, &SimulationRuntimeError{
			Op: "conservation",
			Detail: fmt.Sprintf("arrivals %d != completions %d + balks %d + reneges %d + in-flight %d",
				s.metrics.rawArrived, s.metrics.rawServed, s.metrics.rawBalked, s.metrics.rawReneged, s.inFlight),
		}
	}

	logrus.WithFields(logrus.Fields{
		"clock":     elapsed,
		"arrived":   s.metrics.rawArrived,
		"completed": s.metrics.rawServed,
	}).Info("simulation ended")

	return Result{Metrics: s.metrics.Results(elapsed, s.resources), Metadata: singleRunMetadata()}, nil
}
