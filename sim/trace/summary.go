package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRecords      int
	ArrivedCount      int
	CompletedCount    int
	BalkedCount       int
	RenegedCount      int
	PreemptedCount    int
	MeanWait          float64
	MaxWait           float64
	UniqueResources   int
	GrantDistribution map[string]int // resource name → grant count
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		GrantDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalRecords = len(st.Lifecycle) + len(st.Grants)
	for _, rec := range st.Lifecycle {
		switch rec.Phase {
		case PhaseArrived:
			summary.ArrivedCount++
		case PhaseCompleted:
			summary.CompletedCount++
		case PhaseBalked:
			summary.BalkedCount++
		case PhaseReneged:
			summary.RenegedCount++
		case PhasePreempted:
			summary.PreemptedCount++
		}
	}

	if len(st.Grants) > 0 {
		totalWait := 0.0
		for _, g := range st.Grants {
			summary.GrantDistribution[g.Resource]++
			totalWait += g.Wait
			if g.Wait > summary.MaxWait {
				summary.MaxWait = g.Wait
			}
		}
		summary.MeanWait = totalWait / float64(len(st.Grants))
	}

	summary.UniqueResources = len(summary.GrantDistribution)

	return summary
}
