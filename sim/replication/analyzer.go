package replication

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/queuesim/queuesim/sim"
)

const defaultPrecisionThreshold = 0.15

var defaultConfidenceLevels = []float64{0.90, 0.95, 0.99}

// Analyzer derives interval statistics from a replication batch.
type Analyzer struct {
	ConfidenceLevels []float64
	// PrecisionThreshold flags metrics whose 95% CI relative precision
	// exceeds it; 0 means the default of 15%.
	PrecisionThreshold float64
}

// NewAnalyzer builds an analyzer with the standard confidence levels.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		ConfidenceLevels:   defaultConfidenceLevels,
		PrecisionThreshold: defaultPrecisionThreshold,
	}
}

// ConfidenceInterval is a t-based interval around a metric's mean.
// RelativePrecision is the half-width as a fraction of the mean's magnitude;
// it is 0 when the mean is 0, where the ratio is undefined.
type ConfidenceInterval struct {
	Lower             float64 `json:"lower"`
	Upper             float64 `json:"upper"`
	HalfWidth         float64 `json:"half_width"`
	RelativePrecision float64 `json:"relative_precision"`
}

// NormalityTest reports a Jarque-Bera check of a metric's replication
// values. Nil when the sample is too small or degenerate to assess.
type NormalityTest struct {
	Test      string  `json:"test"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	IsNormal  bool    `json:"is_normal"`
}

// OutlierBounds are the 1.5-IQR fences.
type OutlierBounds struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// OutlierReport lists replication values outside the IQR fences.
type OutlierReport struct {
	Count  int           `json:"count"`
	Values []float64     `json:"values,omitempty"`
	Bounds OutlierBounds `json:"bounds"`
}

// MetricAnalysis is the full statistical description of one metric across
// the successful replications. SampleSize can be below the batch size:
// a metric absent from some runs is analyzed over the runs that report it.
type MetricAnalysis struct {
	Mean                   float64 `json:"mean"`
	Median                 float64 `json:"median"`
	StdDev                 float64 `json:"std_dev"`
	Variance               float64 `json:"variance"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Range                  float64 `json:"range"`
	Min                    float64 `json:"min"`
	Max                    float64 `json:"max"`
	IQR                    float64 `json:"iqr"`

	Percentiles         map[string]float64            `json:"percentiles"`
	ConfidenceIntervals map[string]ConfidenceInterval `json:"confidence_intervals"`

	SampleSize       int     `json:"sample_size"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
	StandardError    float64 `json:"standard_error"`

	Normality *NormalityTest `json:"normality_test,omitempty"`
	Outliers  OutlierReport  `json:"outliers"`
	Warnings  []string       `json:"warnings,omitempty"`
}

// BatchSummary describes the batch the analysis was derived from.
type BatchSummary struct {
	TotalRequested   int       `json:"total_replications_requested"`
	Successful       int       `json:"successful_replications"`
	Failed           int       `json:"failed_replications"`
	SeedBase         int64     `json:"random_seed_base"`
	MetricsAnalyzed  int       `json:"metrics_analyzed"`
	ConfidenceLevels []float64 `json:"confidence_levels"`
}

// IndividualRun preserves one replication's raw metrics for transparency.
type IndividualRun struct {
	ReplicationNumber int
	Seed              int64
	Metrics           map[string]float64
}

// MarshalJSON emits the run's metrics flat, with the replication number and
// seed under a reserved _replication_info key beside them.
func (r IndividualRun) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Metrics)+1)
	for k, v := range r.Metrics {
		out[k] = v
	}
	out["_replication_info"] = map[string]any{
		"replication_number": r.ReplicationNumber,
		"random_seed":        r.Seed,
	}
	return json.Marshal(out)
}

// FailedRun records a replication that produced no result.
type FailedRun struct {
	ReplicationNumber int    `json:"replication_number"`
	Seed              int64  `json:"random_seed"`
	Error             string `json:"error"`
}

// Analysis is the statistical analysis of a replication batch.
type Analysis struct {
	Metrics    map[string]*MetricAnalysis
	Summary    BatchSummary
	Individual []IndividualRun
	Failed     []FailedRun
}

// MarshalJSON flattens the per-metric analyses into the top-level object,
// with the batch summary, raw runs, and any failures under reserved
// underscore keys.
func (a *Analysis) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Metrics)+3)
	for k, v := range a.Metrics {
		out[k] = v
	}
	out["_replication_summary"] = a.Summary
	out["_individual_replications"] = a.Individual
	if len(a.Failed) > 0 {
		out["_failed_replications"] = a.Failed
	}
	return json.Marshal(out)
}

// Analyze computes per-metric statistics across the batch's successful runs.
// Metrics observed in fewer than two runs are skipped; the batch itself was
// already gated on two successes by the runner.
func (a *Analyzer) Analyze(batch *Batch) (*Analysis, error) {
	if batch == nil || len(batch.Runs) < minSuccessfulRuns {
		return nil, fmt.Errorf("at least %d successful replications required for analysis", minSuccessfulRuns)
	}

	levels := a.ConfidenceLevels
	if len(levels) == 0 {
		levels = defaultConfidenceLevels
	}

	values := make(map[string][]float64)
	for _, run := range batch.Runs {
		for key, v := range run.Result.Metrics {
			values[key] = append(values[key], v)
		}
	}

	analysis := &Analysis{Metrics: make(map[string]*MetricAnalysis, len(values))}
	for key, vs := range values {
		if len(vs) < 2 {
			continue
		}
		analysis.Metrics[key] = a.analyzeMetric(vs, levels)
	}

	analysis.Summary = BatchSummary{
		TotalRequested:   batch.Requested,
		Successful:       len(batch.Runs),
		Failed:           len(batch.Failures),
		SeedBase:         batch.SeedBase,
		MetricsAnalyzed:  len(analysis.Metrics),
		ConfidenceLevels: levels,
	}

	analysis.Individual = make([]IndividualRun, len(batch.Runs))
	for i, run := range batch.Runs {
		analysis.Individual[i] = IndividualRun{
			ReplicationNumber: run.Index + 1,
			Seed:              run.Seed,
			Metrics:           run.Result.Metrics,
		}
	}
	for _, f := range batch.Failures {
		analysis.Failed = append(analysis.Failed, FailedRun{
			ReplicationNumber: f.Index + 1,
			Seed:              f.Seed,
			Error:             f.Err.Error(),
		})
	}

	return analysis, nil
}

func (a *Analyzer) analyzeMetric(values []float64, levels []float64) *MetricAnalysis {
	n := len(values)
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	mean := stat.Mean(values, nil)
	variance := stat.Variance(values, nil)
	stdDev := math.Sqrt(variance)
	minVal := floats.Min(values)
	maxVal := floats.Max(values)

	percentiles := make(map[string]float64, 6)
	for _, p := range []float64{5, 10, 25, 75, 90, 95} {
		percentiles[fmt.Sprintf("p%d", int(p))] = sim.CalculatePercentile(sorted, p)
	}

	cv := 0.0
	if mean != 0 {
		cv = stdDev / math.Abs(mean)
	}
	stdErr := stdDev / math.Sqrt(float64(n))

	intervals := make(map[string]ConfidenceInterval, len(levels))
	for _, level := range levels {
		alpha := 1 - level
		tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 1)}.Quantile(1 - alpha/2)
		halfWidth := tCrit * stdErr
		ci := ConfidenceInterval{
			Lower:     mean - halfWidth,
			Upper:     mean + halfWidth,
			HalfWidth: halfWidth,
		}
		if mean != 0 {
			ci.RelativePrecision = halfWidth / math.Abs(mean)
		}
		intervals[fmt.Sprintf("ci_%d", int(math.Round(level*100)))] = ci
	}

	// Jarque-Bera needs the sample excess kurtosis, which is undefined below
	// four observations; past fifty the batch is large enough that interval
	// statistics stop depending on normality.
	var normality *NormalityTest
	if n >= 4 && n <= 50 && stdDev > 0 {
		skew := stat.Skew(values, nil)
		exKurt := stat.ExKurtosis(values, nil)
		jb := float64(n) / 6 * (skew*skew + exKurt*exKurt/4)
		p := distuv.ChiSquared{K: 2}.Survival(jb)
		normality = &NormalityTest{Test: "Jarque-Bera", Statistic: jb, PValue: p, IsNormal: p > 0.05}
	}

	q1 := percentiles["p25"]
	q3 := percentiles["p75"]
	iqr := q3 - q1
	bounds := OutlierBounds{Lower: q1 - 1.5*iqr, Upper: q3 + 1.5*iqr}
	var outliers []float64
	for _, v := range values {
		if v < bounds.Lower || v > bounds.Upper {
			outliers = append(outliers, v)
		}
	}

	m := &MetricAnalysis{
		Mean:                   mean,
		Median:                 sim.CalculatePercentile(sorted, 50),
		StdDev:                 stdDev,
		Variance:               variance,
		CoefficientOfVariation: cv,
		Range:                  maxVal - minVal,
		Min:                    minVal,
		Max:                    maxVal,
		IQR:                    iqr,
		Percentiles:            percentiles,
		ConfidenceIntervals:    intervals,
		SampleSize:             n,
		DegreesOfFreedom:       n - 1,
		StandardError:          stdErr,
		Normality:              normality,
		Outliers:               OutlierReport{Count: len(outliers), Values: outliers, Bounds: bounds},
	}

	threshold := a.PrecisionThreshold
	if threshold <= 0 {
		threshold = defaultPrecisionThreshold
	}
	if n < 5 {
		m.Warnings = append(m.Warnings, fmt.Sprintf("only %d replications; interval estimates are unstable below 5", n))
	}
	if ci95, ok := m.ConfidenceIntervals["ci_95"]; ok && mean != 0 && ci95.RelativePrecision > threshold {
		m.Warnings = append(m.Warnings, fmt.Sprintf(
			"95%% CI relative precision of ±%.1f%% exceeds ±%.1f%%; add replications",
			ci95.RelativePrecision*100, threshold*100))
	}

	return m
}
