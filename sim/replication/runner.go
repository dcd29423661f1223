// Package replication runs independent replications of one simulation
// configuration and derives interval statistics from them. A single run is a
// point estimate; replications under different seeds are what turn the
// engine's output into defensible numbers.
package replication

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/queuesim/queuesim/sim"
)

// minSuccessfulRuns is the floor below which no interval statistics exist.
const minSuccessfulRuns = 2

// CompletedRun is one successful replication.
type CompletedRun struct {
	Index  int // 0-based replication index
	Seed   int64
	Result sim.Result
}

// FailedReplication records one replication that errored. The batch as a
// whole survives individual failures as long as enough runs succeed.
type FailedReplication struct {
	Index int // 0-based replication index
	Seed  int64
	Err   error
}

// Batch holds the outcome of a replication batch: the successful runs in
// replication order plus the failures.
type Batch struct {
	Requested int
	SeedBase  int64
	Runs      []CompletedRun
	Failures  []FailedReplication
}

// PartialFailureError reports a batch with too few successful replications
// to analyze.
type PartialFailureError struct {
	Requested int
	Succeeded int
	Failures  []FailedReplication
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("only %d of %d replications succeeded (need at least %d)",
		e.Succeeded, e.Requested, minSuccessfulRuns)
}

// Runner executes independent replications of one configuration. Replication
// i runs under seed SeedBase + i, so a batch is reproducible from its base
// seed alone and replication i equals a single run with that seed.
type Runner struct {
	Config   *sim.Config
	Runs     int
	SeedBase int64
	Workers  int // concurrent runs; 0 = one per CPU, capped at Runs
}

// NewRunner builds a runner with the default worker count.
func NewRunner(cfg *sim.Config, runs int, seedBase int64) *Runner {
	return &Runner{Config: cfg, Runs: runs, SeedBase: seedBase}
}

type runOutcome struct {
	seed   int64
	result sim.Result
	err    error
}

// Run executes the batch. Runs execute concurrently up to the worker bound;
// each is fully independent, so execution order never affects results.
// Cancelling ctx stops launching new runs and records the unlaunched ones as
// failures; runs already started complete. The error is non-nil only when
// fewer than two replications succeed.
func (r *Runner) Run(ctx context.Context) (*Batch, error) {
	if r.Runs < minSuccessfulRuns {
		return nil, fmt.Errorf("replication batch needs at least %d runs, got %d", minSuccessfulRuns, r.Runs)
	}

	// Normalize once up front; after this the config sees only reads, so the
	// workers can share it.
	r.Config.Normalize()
	if err := r.Config.Validate(); err != nil {
		return nil, err
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > r.Runs {
		workers = r.Runs
	}

	logrus.WithFields(logrus.Fields{
		"runs":      r.Runs,
		"seed_base": r.SeedBase,
		"workers":   workers,
	}).Info("replication batch started")

	outcomes := make([]runOutcome, r.Runs)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

launch:
	for i := 0; i < r.Runs; i++ {
		select {
		case <-ctx.Done():
			for j := i; j < r.Runs; j++ {
				outcomes[j] = runOutcome{seed: r.SeedBase + int64(j), err: ctx.Err()}
			}
			break launch
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int, seed int64) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[idx] = r.runOne(seed)
		}(i, r.SeedBase+int64(i))
	}
	wg.Wait()

	batch := &Batch{Requested: r.Runs, SeedBase: r.SeedBase}
	for i, o := range outcomes {
		if o.err != nil {
			logrus.WithFields(logrus.Fields{
				"replication": i,
				"seed":        o.seed,
				"error":       o.err,
			}).Warn("replication failed")
			batch.Failures = append(batch.Failures, FailedReplication{Index: i, Seed: o.seed, Err: o.err})
			continue
		}
		batch.Runs = append(batch.Runs, CompletedRun{Index: i, Seed: o.seed, Result: o.result})
	}

	if len(batch.Runs) < minSuccessfulRuns {
		return nil, &PartialFailureError{
			Requested: r.Runs,
			Succeeded: len(batch.Runs),
			Failures:  batch.Failures,
		}
	}

	logrus.WithFields(logrus.Fields{
		"succeeded": len(batch.Runs),
		"failed":    len(batch.Failures),
	}).Info("replication batch finished")

	return batch, nil
}

func (r *Runner) runOne(seed int64) runOutcome {
	s, err := sim.New(r.Config, seed)
	if err != nil {
		return runOutcome{seed: seed, err: err}
	}
	result, err := s.Run()
	if err != nil {
		return runOutcome{seed: seed, err: err}
	}
	return runOutcome{seed: seed, result: result}
}
