package sim

import (
	"hash/fnv"
	"math/rand/v2"
)

// Subsystem names for the randomness streams a run consumes. Isolating
// streams keeps one concern's draw count from perturbing another's, so adding
// a balking rule, say, cannot shift the service-time sequence.
const (
	SubsystemEntities = "entities"
	SubsystemArrivals = "arrivals"
	SubsystemService  = "service"
	SubsystemBehavior = "behavior"
	SubsystemFailures = "failures"
)

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem.
//
// Derivation formula: streamSeed = masterSeed XOR fnv1a64(subsystemName).
// Derivation is order-independent, so the set of subsystems requested does
// not affect any individual stream.
//
// Thread-safety: NOT thread-safe. Each run owns its own PartitionedRNG and
// consumes it from the single dispatch goroutine.
type PartitionedRNG struct {
	masterSeed int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG for one run's master seed.
func NewPartitionedRNG(masterSeed int64) *PartitionedRNG {
	return &PartitionedRNG{
		masterSeed: masterSeed,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the deterministically-seeded stream for the named
// subsystem. The same name always returns the same *rand.Rand instance.
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	derived := p.masterSeed ^ fnv1a64(name)
	rng := rand.New(rand.NewPCG(uint64(p.masterSeed), uint64(derived)))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the master seed this PartitionedRNG was created with.
func (p *PartitionedRNG) Seed() int64 {
	return p.masterSeed
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
