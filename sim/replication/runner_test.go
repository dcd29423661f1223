package replication

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/queuesim/queuesim/sim"
)

const batchYAML = `
run_time: 50
arrival_pattern:
  distribution: "exp(2)"
entity_types:
  customer:
    probability: 1.0
    value:
      min: 1
      max: 2
resources:
  service:
    capacity: 1
processing_rules:
  steps: [service]
  service:
    distribution: "exp(1)"
reneging_rules:
  service:
    abandon_time: "constant(4)"
`

// loopYAML validates cleanly but every run aborts on the routing loop
// guard, which makes whole-batch failure reproducible.
const loopYAML = `
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
`

func mustBatchConfig(t *testing.T, yamlText string) *sim.Config {
	t.Helper()
	cfg, err := sim.ParseConfig([]byte(yamlText))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

func TestRunner_EachReplicationMatchesItsSingleRun(t *testing.T) {
	cfg := mustBatchConfig(t, batchYAML)
	runner := NewRunner(cfg, 3, 500)

	batch, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if len(batch.Runs) != 3 {
		t.Fatalf("successful runs = %d, want 3", len(batch.Runs))
	}

	for i, run := range batch.Runs {
		if run.Index != i {
			t.Errorf("run %d: index = %d", i, run.Index)
		}
		if want := int64(500 + i); run.Seed != want {
			t.Errorf("run %d: seed = %d, want %d", i, run.Seed, want)
		}

		// A replication is exactly the single run under its seed.
		s, err := sim.New(cfg, run.Seed)
		if err != nil {
			t.Fatalf("build reference simulator: %v", err)
		}
		ref, err := s.Run()
		if err != nil {
			t.Fatalf("reference run: %v", err)
		}
		if !reflect.DeepEqual(run.Result.Metrics, ref.Metrics) {
			t.Errorf("run %d diverged from its single-run reference:\n%v\n%v",
				i, run.Result.Metrics, ref.Metrics)
		}
	}
}

func TestRunner_WorkerCountDoesNotAffectResults(t *testing.T) {
	cfg := mustBatchConfig(t, batchYAML)

	serial := NewRunner(cfg, 4, 900)
	serial.Workers = 1
	parallel := NewRunner(cfg, 4, 900)
	parallel.Workers = 4

	a, err := serial.Run(context.Background())
	if err != nil {
		t.Fatalf("serial batch: %v", err)
	}
	b, err := parallel.Run(context.Background())
	if err != nil {
		t.Fatalf("parallel batch: %v", err)
	}

	for i := range a.Runs {
		if !reflect.DeepEqual(a.Runs[i].Result.Metrics, b.Runs[i].Result.Metrics) {
			t.Errorf("replication %d differs between worker counts", i)
		}
	}
}

func TestRunner_TooFewRunsRejected(t *testing.T) {
	cfg := mustBatchConfig(t, batchYAML)
	if _, err := NewRunner(cfg, 1, 1).Run(context.Background()); err == nil {
		t.Error("want error for a single-run batch")
	}
}

func TestRunner_InvalidConfigRejectedBeforeLaunch(t *testing.T) {
	cfg := mustBatchConfig(t, batchYAML)
	cfg.RunTime = 0

	if _, err := NewRunner(cfg, 3, 1).Run(context.Background()); err == nil {
		t.Error("want validation error before any replication starts")
	}
}

func TestRunner_AllRunsFailing_PartialFailureError(t *testing.T) {
	cfg := mustBatchConfig(t, loopYAML)

	_, err := NewRunner(cfg, 3, 42).Run(context.Background())
	var pf *PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("want PartialFailureError, got %v", err)
	}
	if pf.Succeeded != 0 || pf.Requested != 3 {
		t.Errorf("succeeded/requested = %d/%d, want 0/3", pf.Succeeded, pf.Requested)
	}
	if len(pf.Failures) != 3 {
		t.Fatalf("failure records = %d, want 3", len(pf.Failures))
	}
	for i, f := range pf.Failures {
		if f.Err == nil {
			t.Errorf("failure %d carries no error", i)
		}
		if f.Seed != int64(42+i) {
			t.Errorf("failure %d: seed = %d, want %d", i, f.Seed, 42+i)
		}
	}
	if got := pf.Error(); got != "only 0 of 3 replications succeeded (need at least 2)" {
		t.Errorf("error text = %q", got)
	}
}

func TestRunner_CancelledContext_AccountsForEveryReplication(t *testing.T) {
	cfg := mustBatchConfig(t, batchYAML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(cfg, 4, 7)
	runner.Workers = 1
	batch, err := runner.Run(ctx)

	// Runs already launched before the cancellation finish normally, so the
	// batch may or may not clear the two-success floor; either way every
	// replication must be accounted for and skips must carry the ctx error.
	if err != nil {
		var pf *PartialFailureError
		if !errors.As(err, &pf) {
			t.Fatalf("want PartialFailureError, got %v", err)
		}
		for _, f := range pf.Failures {
			if !errors.Is(f.Err, context.Canceled) {
				t.Errorf("failure %d: err = %v, want context.Canceled", f.Index, f.Err)
			}
		}
		return
	}
	if got := len(batch.Runs) + len(batch.Failures); got != 4 {
		t.Errorf("accounted replications = %d, want 4", got)
	}
	for _, f := range batch.Failures {
		if !errors.Is(f.Err, context.Canceled) {
			t.Errorf("failure %d: err = %v, want context.Canceled", f.Index, f.Err)
		}
	}
}
