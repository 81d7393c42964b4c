package core

import "testing"

func TestResourceAllocatorDefaultAndOverrideLimit(t *testing.T) {
	a := NewResourceAllocator()
	did := DID("did:icn:alice")
	if got := a.GetLimit(did, "cpu"); got != defaultResourceLimit {
		t.Fatalf("got default limit %d, want %d", got, defaultResourceLimit)
	}
	a.SetLimit(did, "cpu", 500)
	if got := a.GetLimit(did, "cpu"); got != 500 {
		t.Fatalf("got %d, want 500", got)
	}
	// A different class for the same identity is unaffected.
	if got := a.GetLimit(did, "mem"); got != defaultResourceLimit {
		t.Fatalf("got %d, want default limit for an untouched class", got)
	}
}

func TestProposeAllocationPlanThresholds(t *testing.T) {
	a := NewResourceAllocator()
	alice := DID("did:icn:alice")
	bob := DID("did:icn:bob")
	carol := DID("did:icn:carol")
	a.SetLimit(alice, "cpu", 1000)
	a.SetLimit(bob, "cpu", 1000)
	a.SetLimit(carol, "cpu", 1000)

	metrics := []AllocationMetric{
		{DID: alice, Class: "cpu", Utilization: 0.2, Score: 1},  // underutilized -> shrink
		{DID: bob, Class: "cpu", Utilization: 0.95, Score: 2},   // overutilized -> grow
		{DID: carol, Class: "cpu", Utilization: 0.7, Score: 3},  // mid-range -> no entry
	}
	plan := ProposeAllocationPlan(a, metrics)
	if len(plan) != 2 {
		t.Fatalf("got %d plan entries, want 2 (mid-range utilization omitted)", len(plan))
	}
	// Sorted by Score descending: bob (2) before alice (1).
	if plan[0].Metric.DID != bob || plan[1].Metric.DID != alice {
		t.Fatalf("plan not sorted by score descending: %+v", plan)
	}
	for _, e := range plan {
		switch e.Metric.DID {
		case alice:
			if e.NewLimit != 800 {
				t.Fatalf("alice: got new limit %d, want 800 (0.8x)", e.NewLimit)
			}
		case bob:
			if e.NewLimit != 1200 {
				t.Fatalf("bob: got new limit %d, want 1200 (1.2x)", e.NewLimit)
			}
		}
	}
}

func TestExecuteAllocationPlanCompleted(t *testing.T) {
	a := NewResourceAllocator()
	mana := NewManaLedger(nil)
	did := DID("did:icn:alice")
	plan := []AllocationPlanEntry{
		{Metric: AllocationMetric{DID: did, Class: "cpu"}, NewLimit: 100},
	}
	outcome := ExecuteAllocationPlan(plan, a, mana, nil, 0.5, false)
	if outcome.Status != "Completed" || outcome.OK != 1 || outcome.Failed != 0 {
		t.Fatalf("got %+v, want a single completed entry", outcome)
	}
	if a.GetLimit(did, "cpu") == defaultResourceLimit {
		t.Fatalf("expected the allocator limit to be mutated by a committed plan")
	}
	if mana.GetBalance(did) == 0 {
		t.Fatalf("expected mana to be credited by a committed plan")
	}
}

func TestExecuteAllocationPlanFailedWhenAmountNonPositive(t *testing.T) {
	a := NewResourceAllocator()
	mana := NewManaLedger(nil)
	did := DID("did:icn:alice")
	plan := []AllocationPlanEntry{
		{Metric: AllocationMetric{DID: did, Class: "cpu"}, NewLimit: 0},
	}
	outcome := ExecuteAllocationPlan(plan, a, mana, nil, 0.5, false)
	if outcome.Status != "Failed" || outcome.OK != 0 || outcome.Failed != 1 {
		t.Fatalf("got %+v, want a single failed entry", outcome)
	}
}

func TestExecuteAllocationPlanPartiallyCompleted(t *testing.T) {
	a := NewResourceAllocator()
	mana := NewManaLedger(nil)
	plan := []AllocationPlanEntry{
		{Metric: AllocationMetric{DID: "did:icn:alice", Class: "cpu"}, NewLimit: 100},
		{Metric: AllocationMetric{DID: "did:icn:bob", Class: "cpu"}, NewLimit: 0},
	}
	outcome := ExecuteAllocationPlan(plan, a, mana, nil, 0.5, false)
	if outcome.Status != "PartiallyCompleted" || outcome.OK != 1 || outcome.Failed != 1 {
		t.Fatalf("got %+v, want one ok and one failed", outcome)
	}
}

func TestExecuteAllocationPlanDryRunDoesNotMutate(t *testing.T) {
	a := NewResourceAllocator()
	mana := NewManaLedger(nil)
	did := DID("did:icn:alice")
	a.SetLimit(did, "cpu", 42)
	plan := []AllocationPlanEntry{
		{Metric: AllocationMetric{DID: did, Class: "cpu"}, NewLimit: 100},
	}
	outcome := ExecuteAllocationPlan(plan, a, mana, nil, 0.5, true)
	if outcome.Status != "Completed" || outcome.OK != 1 {
		t.Fatalf("got %+v, want a completed dry-run", outcome)
	}
	if a.GetLimit(did, "cpu") != 42 {
		t.Fatalf("dry run mutated the allocator limit: got %d, want unchanged 42", a.GetLimit(did, "cpu"))
	}
	if mana.GetBalance(did) != 0 {
		t.Fatalf("dry run credited mana: got balance %d, want 0", mana.GetBalance(did))
	}
}

func TestBoundsForHealthWidensWithHealth(t *testing.T) {
	lowMin, lowMax := boundsForHealth(0)
	highMin, highMax := boundsForHealth(1)
	if !(highMax > lowMax) {
		t.Fatalf("expected higher health to widen the upper bound: low=%f high=%f", lowMax, highMax)
	}
	if !(highMin > lowMin) {
		t.Fatalf("expected higher health to widen the lower bound: low=%f high=%f", lowMin, highMin)
	}
}

func TestValidateAllocationAmountRejectsNonPositive(t *testing.T) {
	if err := validateAllocationAmount(0, 100); err == nil {
		t.Fatalf("expected an error for a zero allocation amount")
	}
	if err := validateAllocationAmount(-1, 100); err == nil {
		t.Fatalf("expected an error for a negative allocation amount")
	}
	if err := validateAllocationAmount(50, 100); err != nil {
		t.Fatalf("expected a positive allocation amount to validate, got %v", err)
	}
}
