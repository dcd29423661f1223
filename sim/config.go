// Configuration schema, normalization, and validation for simulation runs.
// Configs are accepted as YAML or JSON (JSON parses as a YAML subset);
// unknown top-level keys are rejected.

package sim

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/queuesim/queuesim/sim/workload"
)

// probabilityTolerance bounds how far entity type probabilities may drift
// from summing to exactly 1.0.
const probabilityTolerance = 0.001

// DefaultPriority applies when an entity type omits priority. Smaller
// numbers are more urgent.
const DefaultPriority = 5

// Config is the top-level simulation configuration.
// Loaded from YAML or JSON via LoadConfig(path).
type Config struct {
	RunTime         float64                       `yaml:"run_time"`
	ArrivalPattern  *ArrivalPatternConfig         `yaml:"arrival_pattern,omitempty"`
	NumEntities     int                           `yaml:"num_entities,omitempty"` // 0 = continuous mode
	EntityTypes     map[string]EntityTypeConfig   `yaml:"entity_types"`
	Resources       map[string]ResourceConfig     `yaml:"resources,omitempty"`
	ProcessingRules ProcessingRulesConfig         `yaml:"processing_rules,omitempty"`
	BalkingRules    map[string]BalkingRuleConfig  `yaml:"balking_rules,omitempty"`
	RenegingRules   map[string]RenegingRuleConfig `yaml:"reneging_rules,omitempty"`
	SimpleRouting   map[string]RoutingRuleConfig  `yaml:"simple_routing,omitempty"`
	BasicFailures   map[string]FailureRuleConfig  `yaml:"basic_failures,omitempty"`
	Metrics         MetricsConfig                 `yaml:"metrics,omitempty"`
	Statistics      *StatisticsConfig             `yaml:"statistics,omitempty"`
}

// ArrivalPatternConfig drives continuous arrivals: each interarrival delay
// is an independent draw from the configured distribution.
type ArrivalPatternConfig struct {
	Distribution string `yaml:"distribution"`
}

// EntityTypeConfig describes one entity population: its share of arrivals,
// queueing priority, economic value range, and static routing attributes.
type EntityTypeConfig struct {
	Probability float64        `yaml:"probability"`
	Priority    *int           `yaml:"priority,omitempty"` // default 5
	Value       *ValueRange    `yaml:"value,omitempty"`
	Attributes  map[string]any `yaml:"attributes,omitempty"`
}

// ValueRange bounds the uniform draw of an entity's economic value.
type ValueRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// ResourceConfig declares a capacity-bounded resource and its queueing
// discipline.
type ResourceConfig struct {
	Capacity     int    `yaml:"capacity"`
	ResourceType string `yaml:"resource_type,omitempty"` // default "fifo"
}

// StepConfig sets the service-time distributions of one processing step.
// A conditional distribution keyed by entity type wins over the step's
// default distribution; a step with neither falls back to uniform(1, 3).
type StepConfig struct {
	Distribution             string            `yaml:"distribution,omitempty"`
	ConditionalDistributions map[string]string `yaml:"conditional_distributions,omitempty"`
}

// ProcessingRulesConfig mixes one fixed key (steps) with per-step service
// rules keyed by the step name, so it decodes through a custom
// unmarshaller. An omitted step list defaults to every resource in name
// order.
type ProcessingRulesConfig struct {
	Steps     []string
	StepRules map[string]StepConfig
}

func (p *ProcessingRulesConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New("processing_rules must be a mapping")
	}
	p.StepRules = make(map[string]StepConfig)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		if key == "steps" {
			if err := val.Decode(&p.Steps); err != nil {
				return fmt.Errorf("processing_rules.steps: %w", err)
			}
			continue
		}
		var sc StepConfig
		if err := val.Decode(&sc); err != nil {
			return fmt.Errorf("processing_rules.%s: %w", key, err)
		}
		p.StepRules[key] = sc
	}
	return nil
}

// BalkingRuleConfig makes entities refuse a queue, by length threshold or
// by probability.
type BalkingRuleConfig struct {
	Type                string             `yaml:"type"`
	Resource            string             `yaml:"resource,omitempty"` // defaults to the rule key
	MaxLength           float64            `yaml:"max_length,omitempty"`
	Probability         float64            `yaml:"probability,omitempty"`
	PriorityMultipliers map[string]float64 `yaml:"priority_multipliers,omitempty"`
}

// RenegingRuleConfig bounds queue patience at one resource.
type RenegingRuleConfig struct {
	Resource            string             `yaml:"resource,omitempty"` // defaults to the rule key
	AbandonTime         string             `yaml:"abandon_time"`
	PriorityMultipliers map[string]float64 `yaml:"priority_multipliers,omitempty"`
}

// RoutingRuleConfig selects the next step after service. Rules bind to a
// step through the after_<step> key convention.
type RoutingRuleConfig struct {
	Conditions         []RoutingConditionConfig `yaml:"conditions,omitempty"`
	DefaultDestination string                   `yaml:"default_destination,omitempty"`
}

// RoutingConditionConfig is one routing predicate: either an attribute
// comparison or an independent probability draw.
type RoutingConditionConfig struct {
	Attribute   string  `yaml:"attribute,omitempty"`
	Operator    string  `yaml:"operator,omitempty"` // default "=="
	Value       any     `yaml:"value,omitempty"`
	Probability float64 `yaml:"probability,omitempty"`
	Destination string  `yaml:"destination"`
}

// FailureRuleConfig drives a resource's failure/repair cycle.
type FailureRuleConfig struct {
	Resource   string `yaml:"resource,omitempty"` // defaults to the rule key
	MTBF       string `yaml:"mtbf"`
	RepairTime string `yaml:"repair_time"`
}

// MetricsConfig renames the standard counters in result keys. Empty fields
// keep the default names.
type MetricsConfig struct {
	ArrivalMetric string `yaml:"arrival_metric,omitempty"`
	ServedMetric  string `yaml:"served_metric,omitempty"`
	BalkMetric    string `yaml:"balk_metric,omitempty"`
	RenegedMetric string `yaml:"reneged_metric,omitempty"`
	ValueMetric   string `yaml:"value_metric,omitempty"`
}

// StatisticsConfig selects which statistics a run collects. Wait times and
// utilization default on; queue lengths default off.
type StatisticsConfig struct {
	CollectWaitTimes    bool    `yaml:"collect_wait_times"`
	CollectQueueLengths bool    `yaml:"collect_queue_lengths"`
	CollectUtilization  bool    `yaml:"collect_utilization"`
	WarmupPeriod        float64 `yaml:"warmup_period"`
}

func defaultStatistics() StatisticsConfig {
	return StatisticsConfig{CollectWaitTimes: true, CollectUtilization: true}
}

// UnmarshalYAML overlays the file's settings on the defaults so that
// omitted keys keep their default-on values.
func (s *StatisticsConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain StatisticsConfig
	p := plain(defaultStatistics())
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = StatisticsConfig(p)
	return nil
}

// validOperators enumerates accepted routing comparison operators.
var validOperators = map[string]bool{
	"==": true, "!=": true, ">": true, "<": true, ">=": true, "<=": true,
}

// LoadConfig reads and parses a YAML or JSON configuration file.
// Uses strict parsing: unrecognized top-level keys (typos) are rejected.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses configuration bytes and applies defaults. Validate is
// a separate call so callers can normalize programmatic configs too.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize fills defaults in place: statistics, entity priority and value,
// resource discipline, rule-to-resource binding, routing operators, the
// fallback single resource, and the step list. Normalizing an already
// normalized config performs no writes, so a normalized config is safe to
// share across concurrently constructed simulators.
func (c *Config) Normalize() {
	if c.Statistics == nil {
		s := defaultStatistics()
		c.Statistics = &s
	}

	for name, et := range c.EntityTypes {
		if et.Priority != nil && et.Value != nil {
			continue
		}
		if et.Priority == nil {
			p := DefaultPriority
			et.Priority = &p
		}
		if et.Value == nil {
			et.Value = &ValueRange{}
		}
		c.EntityTypes[name] = et
	}

	if len(c.Resources) == 0 {
		c.Resources = map[string]ResourceConfig{
			"service": {Capacity: 1, ResourceType: string(DisciplineFIFO)},
		}
	}
	for name, rc := range c.Resources {
		if rc.ResourceType == "" {
			rc.ResourceType = string(DisciplineFIFO)
			c.Resources[name] = rc
		}
	}

	if len(c.ProcessingRules.Steps) == 0 {
		c.ProcessingRules.Steps = sortedKeys(c.Resources)
	}
	if c.ProcessingRules.StepRules == nil {
		c.ProcessingRules.StepRules = map[string]StepConfig{}
	}

	for name, r := range c.BalkingRules {
		if r.Resource == "" {
			r.Resource = name
			c.BalkingRules[name] = r
		}
	}
	for name, r := range c.RenegingRules {
		if r.Resource == "" {
			r.Resource = name
			c.RenegingRules[name] = r
		}
	}
	for name, r := range c.BasicFailures {
		if r.Resource == "" {
			r.Resource = name
			c.BasicFailures[name] = r
		}
	}
	for _, r := range c.SimpleRouting {
		for i := range r.Conditions {
			if r.Conditions[i].Attribute != "" && r.Conditions[i].Operator == "" {
				r.Conditions[i].Operator = "=="
			}
		}
	}
}

// metricNames resolves the configured display names, applying defaults for
// any left empty.
func (c *Config) metricNames() MetricNames {
	n := DefaultMetricNames()
	if c.Metrics.ArrivalMetric != "" {
		n.Arrival = c.Metrics.ArrivalMetric
	}
	if c.Metrics.ServedMetric != "" {
		n.Served = c.Metrics.ServedMetric
	}
	if c.Metrics.BalkMetric != "" {
		n.Balk = c.Metrics.BalkMetric
	}
	if c.Metrics.RenegedMetric != "" {
		n.Reneged = c.Metrics.RenegedMetric
	}
	if c.Metrics.ValueMetric != "" {
		n.Value = c.Metrics.ValueMetric
	}
	return n
}

// Validate checks a normalized configuration. All violations are collected
// and joined so the caller sees every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.RunTime <= 0 {
		errs = append(errs, fmt.Errorf("run_time must be positive, got %v", c.RunTime))
	}

	hasArrival := c.ArrivalPattern != nil
	hasFixed := c.NumEntities > 0
	switch {
	case hasArrival && hasFixed:
		errs = append(errs, errors.New("arrival_pattern and num_entities are mutually exclusive"))
	case !hasArrival && !hasFixed:
		errs = append(errs, errors.New("either arrival_pattern or num_entities is required"))
	}
	if hasArrival {
		if _, err := workload.ParseDistribution(c.ArrivalPattern.Distribution); err != nil {
			errs = append(errs, fmt.Errorf("arrival_pattern: %w", err))
		}
	}
	if c.NumEntities < 0 {
		errs = append(errs, fmt.Errorf("num_entities must be non-negative, got %d", c.NumEntities))
	}
	if c.Statistics != nil && c.Statistics.WarmupPeriod < 0 {
		errs = append(errs, fmt.Errorf("statistics.warmup_period must be non-negative, got %v", c.Statistics.WarmupPeriod))
	}

	errs = append(errs, c.validateEntityTypes()...)
	errs = append(errs, c.validateResources()...)
	errs = append(errs, c.validateSteps()...)
	errs = append(errs, c.validateBehaviorRules()...)

	return errors.Join(errs...)
}

func (c *Config) validateEntityTypes() []error {
	if len(c.EntityTypes) == 0 {
		return []error{errors.New("entity_types must define at least one type")}
	}
	var errs []error
	total := 0.0
	for _, name := range sortedKeys(c.EntityTypes) {
		et := c.EntityTypes[name]
		if et.Probability < 0 {
			errs = append(errs, fmt.Errorf("entity_types.%s: probability must be non-negative, got %v", name, et.Probability))
		}
		total += et.Probability
		if et.Value != nil && et.Value.Min > et.Value.Max {
			errs = append(errs, fmt.Errorf("entity_types.%s: value.min %v exceeds value.max %v", name, et.Value.Min, et.Value.Max))
		}
	}
	if math.Abs(total-1.0) > probabilityTolerance {
		errs = append(errs, fmt.Errorf("entity type probabilities must sum to 1.0, got %v", total))
	}
	return errs
}

func (c *Config) validateResources() []error {
	var errs []error
	for _, name := range sortedKeys(c.Resources) {
		rc := c.Resources[name]
		if rc.Capacity < 1 {
			errs = append(errs, fmt.Errorf("resources.%s: capacity must be at least 1, got %d", name, rc.Capacity))
		}
		if !ValidDisciplines[Discipline(rc.ResourceType)] {
			errs = append(errs, fmt.Errorf("resources.%s: unknown resource_type %q; valid: fifo, priority, preemptive", name, rc.ResourceType))
		}
	}
	return errs
}

func (c *Config) validateSteps() []error {
	var errs []error
	for _, step := range c.ProcessingRules.Steps {
		if _, ok := c.Resources[step]; !ok {
			errs = append(errs, &ConfigReferenceError{Kind: "processing step", Name: step, RefKind: "resource", Ref: step})
		}
	}
	for _, step := range sortedKeys(c.ProcessingRules.StepRules) {
		sc := c.ProcessingRules.StepRules[step]
		if _, ok := c.Resources[step]; !ok {
			errs = append(errs, &ConfigReferenceError{Kind: "processing rule", Name: step, RefKind: "resource", Ref: step})
		}
		if sc.Distribution != "" {
			if _, err := workload.ParseDistribution(sc.Distribution); err != nil {
				errs = append(errs, fmt.Errorf("processing_rules.%s: %w", step, err))
			}
		}
		for _, typ := range sortedKeys(sc.ConditionalDistributions) {
			if _, err := workload.ParseDistribution(sc.ConditionalDistributions[typ]); err != nil {
				errs = append(errs, fmt.Errorf("processing_rules.%s.conditional_distributions.%s: %w", step, typ, err))
			}
		}
	}
	return errs
}

func (c *Config) validateBehaviorRules() []error {
	var errs []error

	for _, name := range sortedKeys(c.BalkingRules) {
		r := c.BalkingRules[name]
		if _, ok := c.Resources[r.Resource]; !ok {
			errs = append(errs, &ConfigReferenceError{Kind: "balking_rule", Name: name, RefKind: "resource", Ref: r.Resource})
		}
		switch r.Type {
		case BalkQueueLength:
			if r.MaxLength <= 0 {
				errs = append(errs, fmt.Errorf("balking_rules.%s: max_length must be positive, got %v", name, r.MaxLength))
			}
		case BalkProbability:
			if r.Probability < 0 || r.Probability > 1 {
				errs = append(errs, fmt.Errorf("balking_rules.%s: probability must be in [0, 1], got %v", name, r.Probability))
			}
		default:
			errs = append(errs, fmt.Errorf("balking_rules.%s: unknown type %q; valid: queue_length, probability", name, r.Type))
		}
	}

	for _, name := range sortedKeys(c.RenegingRules) {
		r := c.RenegingRules[name]
		if _, ok := c.Resources[r.Resource]; !ok {
			errs = append(errs, &ConfigReferenceError{Kind: "reneging_rule", Name: name, RefKind: "resource", Ref: r.Resource})
		}
		if _, err := workload.ParseDistribution(r.AbandonTime); err != nil {
			errs = append(errs, fmt.Errorf("reneging_rules.%s: %w", name, err))
		}
	}

	stepSet := make(map[string]bool, len(c.ProcessingRules.Steps))
	for _, s := range c.ProcessingRules.Steps {
		stepSet[s] = true
	}

	for _, name := range sortedKeys(c.SimpleRouting) {
		r := c.SimpleRouting[name]
		step, ok := strings.CutPrefix(name, "after_")
		if !ok || step == "" {
			errs = append(errs, fmt.Errorf("simple_routing.%s: rule names must follow the after_<step> convention", name))
		} else if !stepSet[step] {
			errs = append(errs, &ConfigReferenceError{Kind: "routing_rule", Name: name, RefKind: "step", Ref: step})
		}
		for i, cond := range r.Conditions {
			prefix := fmt.Sprintf("simple_routing.%s.conditions[%d]", name, i)
			hasAttr := cond.Attribute != ""
			hasProb := cond.Probability != 0
			switch {
			case hasAttr && hasProb:
				errs = append(errs, fmt.Errorf("%s: attribute and probability forms are mutually exclusive", prefix))
			case hasAttr:
				if !validOperators[cond.Operator] {
					errs = append(errs, fmt.Errorf("%s: unknown operator %q; valid: ==, !=, >, <, >=, <=", prefix, cond.Operator))
				}
				if cond.Value == nil {
					errs = append(errs, fmt.Errorf("%s: value is required", prefix))
				}
			case hasProb:
				if cond.Probability < 0 || cond.Probability > 1 {
					errs = append(errs, fmt.Errorf("%s: probability must be in [0, 1], got %v", prefix, cond.Probability))
				}
			default:
				errs = append(errs, fmt.Errorf("%s: either attribute or probability is required", prefix))
			}
			if cond.Destination == "" {
				errs = append(errs, fmt.Errorf("%s: destination is required", prefix))
			} else if !stepSet[cond.Destination] {
				errs = append(errs, &ConfigReferenceError{Kind: "routing_rule", Name: name, RefKind: "step", Ref: cond.Destination})
			}
		}
		if r.DefaultDestination != "" && !stepSet[r.DefaultDestination] {
			errs = append(errs, &ConfigReferenceError{Kind: "routing_rule", Name: name, RefKind: "step", Ref: r.DefaultDestination})
		}
	}

	for _, name := range sortedKeys(c.BasicFailures) {
		r := c.BasicFailures[name]
		if _, ok := c.Resources[r.Resource]; !ok {
			errs = append(errs, &ConfigReferenceError{Kind: "failure_rule", Name: name, RefKind: "resource", Ref: r.Resource})
		}
		if _, err := workload.ParseDistribution(r.MTBF); err != nil {
			errs = append(errs, fmt.Errorf("basic_failures.%s.mtbf: %w", name, err))
		}
		if _, err := workload.ParseDistribution(r.RepairTime); err != nil {
			errs = append(errs, fmt.Errorf("basic_failures.%s.repair_time: %w", name, err))
		}
	}

	return errs
}

// sortedKeys returns a map's keys in lexicographic order, giving validation
// errors and rule evaluation a deterministic sequence.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
