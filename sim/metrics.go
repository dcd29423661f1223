// Tracks simulation-wide counts, wait-time samples, and accumulated value
// for final reporting.

package sim

import (
	"encoding/json"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MetricNames carries the configurable display names used to build result
// keys. Zero values are filled with the defaults by config normalization.
type MetricNames struct {
	Arrival string
	Served  string
	Balk    string
	Reneged string
	Value   string
}

// DefaultMetricNames returns the standard key names.
func DefaultMetricNames() MetricNames {
	return MetricNames{
		Arrival: "entities_arrived",
		Served:  "entities_served",
		Balk:    "entities_balked",
		Reneged: "entities_reneged",
		Value:   "total_value",
	}
}

// Collector aggregates statistics about a single run for final reporting.
// Aggregates honor the warmup boundary; the raw counters do not, so the
// conservation identity can be checked exactly at the end of a run.
type Collector struct {
	names MetricNames

	collectWaitTimes    bool
	collectQueueLengths bool
	collectUtilization  bool
	warmup              float64

	arrived   int64 // post-warmup arrivals
	served    int64
	balked    int64
	reneged   int64
	preempted int64
	value     float64 // accumulated value of post-warmup completions

	waitTimes []float64

	rawArrived int64
	rawServed  int64
	rawBalked  int64
	rawReneged int64
}

func newCollector(names MetricNames, stats StatisticsConfig) *Collector {
	return &Collector{
		names:               names,
		collectWaitTimes:    stats.CollectWaitTimes,
		collectQueueLengths: stats.CollectQueueLengths,
		collectUtilization:  stats.CollectUtilization,
		warmup:              stats.WarmupPeriod,
	}
}

// RecordArrival counts an entity entering the system.
func (c *Collector) RecordArrival(now float64) {
	c.rawArrived++
	if now >= c.warmup {
		c.arrived++
	}
}

// RecordWait stores one completed wait, measured queue-join to grant. The
// warmup filter keys off the grant time.
func (c *Collector) RecordWait(now, wait float64) {
	if now >= c.warmup && c.collectWaitTimes {
		c.waitTimes = append(c.waitTimes, wait)
	}
}

// RecordCompletion counts a successful departure and accrues its value.
func (c *Collector) RecordCompletion(now, value float64) {
	c.rawServed++
	if now >= c.warmup {
		c.served++
		c.value += value
	}
}

// RecordBalk counts an entity that refused to join a queue.
func (c *Collector) RecordBalk(now float64) {
	c.rawBalked++
	if now >= c.warmup {
		c.balked++
	}
}

// RecordRenege counts an entity that abandoned a queue.
func (c *Collector) RecordRenege(now float64) {
	c.rawReneged++
	if now >= c.warmup {
		c.reneged++
	}
}

// RecordPreemption counts an eviction from a preemptive resource.
func (c *Collector) RecordPreemption(now float64) {
	if now >= c.warmup {
		c.preempted++
	}
}

// conservationHolds checks arrivals = completions + balks + reneges +
// in-flight on the raw counters.
func (c *Collector) conservationHolds(inFlight int64) bool {
	return c.rawArrived == c.rawServed+c.rawBalked+c.rawReneged+inFlight
}

// Results builds the flat metric map for one run. Counter keys appear only
// once incremented, mirroring how the result schema behaves with rules
// disabled; derived metrics guard division by zero by omission.
func (c *Collector) Results(elapsed float64, resources map[string]*Resource) map[string]float64 {
	results := make(map[string]float64)

	if c.arrived > 0 {
		results[c.names.Arrival+"_count"] = float64(c.arrived)
	}
	if c.served > 0 {
		results[c.names.Served+"_count"] = float64(c.served)
		results[c.names.Value] = c.value
	}
	if c.balked > 0 {
		results[c.names.Balk+"_count"] = float64(c.balked)
	}
	if c.reneged > 0 {
		results[c.names.Reneged+"_count"] = float64(c.reneged)
	}
	if c.preempted > 0 {
		results["preemptions_count"] = float64(c.preempted)
	}

	if c.arrived > 0 {
		efficiency := float64(c.served) / float64(c.arrived) * 100
		results[c.names.Served+"_processing_efficiency"] = Round(efficiency, 2)
	}
	if c.served > 0 && c.value > 0 {
		valueBase := strings.ReplaceAll(strings.ReplaceAll(c.names.Value, "total_", ""), "_", "")
		servedBase := strings.ReplaceAll(strings.ReplaceAll(c.names.Served, "_served", ""), "_", "")
		results["average_"+valueBase+"_per_"+servedBase] = Round(c.value/float64(c.served), 2)
	}

	if c.collectUtilization && elapsed > 0 {
		for name, r := range resources {
			results[name+"_utilization"] = Round(r.Utilization(), 4)
		}
	}
	if c.collectQueueLengths {
		for name, r := range resources {
			results[name+"_avg_queue_length"] = Round(r.AvgQueueLength(), 2)
		}
	}

	if c.collectWaitTimes && len(c.waitTimes) > 0 {
		results["average_wait_time"] = Round(stat.Mean(c.waitTimes, nil), 2)
		results["max_wait_time"] = Round(floats.Max(c.waitTimes), 2)
		results["min_wait_time"] = Round(floats.Min(c.waitTimes), 2)
	}

	return results
}

// WaitTimes exposes the post-warmup wait samples for tracing.
func (c *Collector) WaitTimes() []float64 {
	return c.waitTimes
}

// RunMetadata qualifies how much trust a result deserves.
type RunMetadata struct {
	Confidence string   `json:"confidence"`
	SampleSize int      `json:"sample_size"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Result is the outcome of one simulation run: the flat metric map plus a
// reliability note.
type Result struct {
	Metrics  map[string]float64
	Metadata RunMetadata
}

// MarshalJSON flattens the metrics into the top-level object and attaches
// the metadata under the reserved "_metadata" key.
func (r Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metrics)+1)
	for k, v := range r.Metrics {
		out[k] = v
	}
	out["_metadata"] = r.Metadata
	return json.Marshal(out)
}

func singleRunMetadata() RunMetadata {
	return RunMetadata{
		Confidence: "point estimate (single run)",
		SampleSize: 1,
		Warnings: []string{
			"single run provides a point estimate only; run replications for confidence intervals",
		},
	}
}
