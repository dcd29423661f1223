package workload

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// Sampler draws durations (or other non-negative quantities) from a
// configured distribution. Draws never fail; all validation happens when the
// distribution specification is parsed.
type Sampler interface {
	// Sample returns a non-negative draw using the provided stream.
	Sample(rng *rand.Rand) float64
}

// SamplingError reports a malformed distribution specification. It is raised
// at parse time only; a successfully parsed sampler never errors at draw time.
type SamplingError struct {
	Spec   string // the offending specification text
	Reason string
}

func (e *SamplingError) Error() string {
	return fmt.Sprintf("invalid distribution %q: %s", e.Spec, e.Reason)
}

// UniformSampler draws uniformly from [low, high).
type UniformSampler struct {
	low, high float64
}

func (s *UniformSampler) Sample(rng *rand.Rand) float64 {
	if s.low == s.high {
		return math.Max(0, s.low)
	}
	v := distuv.Uniform{Min: s.low, Max: s.high, Src: rng}.Rand()
	return math.Max(0, v)
}

// NormalSampler draws from a Gaussian clamped at zero, so small means with
// large deviations cannot produce negative durations.
type NormalSampler struct {
	mean, stdDev float64
}

func (s *NormalSampler) Sample(rng *rand.Rand) float64 {
	if s.stdDev == 0 {
		return math.Max(0, s.mean)
	}
	v := distuv.Normal{Mu: s.mean, Sigma: s.stdDev, Src: rng}.Rand()
	return math.Max(0, v)
}

// ExponentialSampler draws exponentially-distributed durations. The
// configured parameter is a mean, not a rate.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return distuv.Exponential{Rate: 1 / s.mean, Src: rng}.Rand()
}

// ConstantSampler always returns the same fixed value. Deterministic
// interarrival and service times are expressed with it.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return math.Max(0, s.value)
}

// ParseDistribution parses a specification of the form "name(arg, ...)" into
// a Sampler. Supported forms:
//
//	uniform(low, high)
//	normal(mean, stdDev)   alias: gauss
//	exp(mean)              alias: exponential
//	constant(value)        alias: fixed
//
// Malformed specifications return a *SamplingError.
func ParseDistribution(spec string) (Sampler, error) {
	s := strings.TrimSpace(spec)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return nil, &SamplingError{Spec: spec, Reason: "expected form name(arg, ...)"}
	}
	name := strings.ToLower(strings.TrimSpace(s[:open]))
	args, err := parseArgs(spec, s[open+1:len(s)-1])
	if err != nil {
		return nil, err
	}

	switch name {
	case "uniform":
		if err := requireArgs(spec, args, 2, "uniform requires exactly 2 parameters: low and high"); err != nil {
			return nil, err
		}
		if args[0] > args[1] {
			return nil, &SamplingError{Spec: spec, Reason: "uniform low exceeds high"}
		}
		return &UniformSampler{low: args[0], high: args[1]}, nil

	case "normal", "gauss":
		if err := requireArgs(spec, args, 2, "normal requires exactly 2 parameters: mean and std dev"); err != nil {
			return nil, err
		}
		if args[1] < 0 {
			return nil, &SamplingError{Spec: spec, Reason: "normal std dev must be >= 0"}
		}
		return &NormalSampler{mean: args[0], stdDev: args[1]}, nil

	case "exp", "exponential":
		if err := requireArgs(spec, args, 1, "exponential requires exactly 1 parameter: mean"); err != nil {
			return nil, err
		}
		if args[0] <= 0 {
			return nil, &SamplingError{Spec: spec, Reason: "exponential mean must be > 0"}
		}
		return &ExponentialSampler{mean: args[0]}, nil

	case "constant", "fixed":
		if err := requireArgs(spec, args, 1, "constant requires exactly 1 parameter: value"); err != nil {
			return nil, err
		}
		return &ConstantSampler{value: args[0]}, nil

	default:
		return nil, &SamplingError{Spec: spec, Reason: fmt.Sprintf("unsupported distribution %q", name)}
	}
}

// parseArgs splits and parses the comma-separated numeric argument list.
func parseArgs(spec, argStr string) ([]float64, error) {
	if strings.TrimSpace(argStr) == "" {
		return nil, nil
	}
	parts := strings.Split(argStr, ",")
	args := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, &SamplingError{Spec: spec, Reason: fmt.Sprintf("parameter %q is not a number", strings.TrimSpace(p))}
		}
		args = append(args, v)
	}
	return args, nil
}

// requireArgs checks the argument count for a distribution form.
func requireArgs(spec string, args []float64, n int, usage string) error {
	if len(args) != n {
		return &SamplingError{Spec: spec, Reason: usage}
	}
	return nil
}
