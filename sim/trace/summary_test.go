package trace

import "testing"

func TestSummarize_NilTrace_ZeroValues(t *testing.T) {
	summary := Summarize(nil)

	if summary.TotalRecords != 0 {
		t.Errorf("total records = %d, want 0", summary.TotalRecords)
	}
	if summary.GrantDistribution == nil {
		t.Error("grant distribution must be non-nil even for a nil trace")
	}
}

func TestSummarize_EmptyTrace_ZeroValues(t *testing.T) {
	summary := Summarize(NewSimulationTrace(TraceLevelEvents))

	if summary.TotalRecords != 0 {
		t.Errorf("total records = %d, want 0", summary.TotalRecords)
	}
	if summary.ArrivedCount != 0 || summary.CompletedCount != 0 {
		t.Error("expected zero arrived and completed counts")
	}
	if summary.MeanWait != 0 || summary.MaxWait != 0 {
		t.Error("expected zero wait statistics")
	}
	if summary.UniqueResources != 0 {
		t.Errorf("unique resources = %d, want 0", summary.UniqueResources)
	}
}

func TestSummarize_PopulatedTrace_CorrectCounts(t *testing.T) {
	// GIVEN a trace with every lifecycle phase and grants on two resources
	st := NewSimulationTrace(TraceLevelEvents)
	st.RecordLifecycle(LifecycleRecord{EntityID: 1, Clock: 0, Phase: PhaseArrived})
	st.RecordLifecycle(LifecycleRecord{EntityID: 2, Clock: 1, Phase: PhaseArrived})
	st.RecordLifecycle(LifecycleRecord{EntityID: 3, Clock: 2, Phase: PhaseArrived})
	st.RecordLifecycle(LifecycleRecord{EntityID: 1, Clock: 5, Phase: PhaseCompleted})
	st.RecordLifecycle(LifecycleRecord{EntityID: 2, Clock: 3, Phase: PhaseBalked, Resource: "desk"})
	st.RecordLifecycle(LifecycleRecord{EntityID: 3, Clock: 4, Phase: PhaseReneged, Resource: "desk"})
	st.RecordLifecycle(LifecycleRecord{EntityID: 4, Clock: 6, Phase: PhasePreempted, Resource: "scanner"})
	st.RecordGrant(GrantRecord{EntityID: 1, Resource: "desk", Clock: 1, Wait: 1.0, ServiceTime: 4})
	st.RecordGrant(GrantRecord{EntityID: 4, Resource: "scanner", Clock: 2, Wait: 3.0, ServiceTime: 2})
	st.RecordGrant(GrantRecord{EntityID: 4, Resource: "desk", Clock: 8, Wait: 2.0, ServiceTime: 1})

	// WHEN summarized
	summary := Summarize(st)

	// THEN counts, wait statistics, and the grant distribution line up
	if summary.TotalRecords != 10 {
		t.Errorf("total records = %d, want 10", summary.TotalRecords)
	}
	if summary.ArrivedCount != 3 {
		t.Errorf("arrived = %d, want 3", summary.ArrivedCount)
	}
	if summary.CompletedCount != 1 || summary.BalkedCount != 1 ||
		summary.RenegedCount != 1 || summary.PreemptedCount != 1 {
		t.Errorf("phase counts = %d/%d/%d/%d, want 1 each",
			summary.CompletedCount, summary.BalkedCount,
			summary.RenegedCount, summary.PreemptedCount)
	}
	if summary.MeanWait != 2.0 {
		t.Errorf("mean wait = %v, want 2", summary.MeanWait)
	}
	if summary.MaxWait != 3.0 {
		t.Errorf("max wait = %v, want 3", summary.MaxWait)
	}
	if summary.UniqueResources != 2 {
		t.Errorf("unique resources = %d, want 2", summary.UniqueResources)
	}
	if summary.GrantDistribution["desk"] != 2 || summary.GrantDistribution["scanner"] != 1 {
		t.Errorf("grant distribution = %v, want desk:2 scanner:1", summary.GrantDistribution)
	}
}
