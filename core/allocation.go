package core

import (
	"fmt"
	"sort"
	"sync"
)

// AllocationLimit tracks the resource ceiling granted to an identity
// for a resource class.
type AllocationLimit struct {
	DID   DID
	Class string
	Limit uint64
}

// ResourceAllocator stores per-identity, per-class resource limits.
type ResourceAllocator struct {
	mu     sync.Mutex
	limits map[string]uint64 // "<did>:<class>" -> limit
}

const defaultResourceLimit = 1_000_000

// NewResourceAllocator returns an empty allocator.
func NewResourceAllocator() *ResourceAllocator {
	return &ResourceAllocator{limits: make(map[string]uint64)}
}

func allocKey(did DID, class string) string { return string(did) + ":" + class }

// GetLimit returns did's limit for class, defaulting when unset.
func (a *ResourceAllocator) GetLimit(did DID, class string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.limits[allocKey(did, class)]; ok {
		return v
	}
	return defaultResourceLimit
}

// SetLimit overwrites did's limit for class.
func (a *ResourceAllocator) SetLimit(did DID, class string, limit uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limits[allocKey(did, class)] = limit
}

// AllocationMetric is one class's observed utilization, feeding the
// optimization proposal step.
type AllocationMetric struct {
	DID         DID
	Class       string
	Utilization float64 // consumed / limit, in [0, +inf)
	Score       float64
	Reputation  float64
	BalanceFactor float64
	Priority    float64
	Conditions  float64
	Performance float64
	Network     float64
}

// AllocationPlanEntry is a proposed resource-limit change.
type AllocationPlanEntry struct {
	Metric    AllocationMetric
	NewLimit  uint64
}

// ProposeAllocationPlan enumerates metrics and proposes a reduction
// to 0.8x when utilization<0.5, or an expansion to 1.2x when
// utilization>0.9, leaving other classes unchanged (omitted from the
// returned plan).
func ProposeAllocationPlan(allocator *ResourceAllocator, metrics []AllocationMetric) []AllocationPlanEntry {
	var plan []AllocationPlanEntry
	for _, m := range metrics {
		cur := allocator.GetLimit(m.DID, m.Class)
		switch {
		case m.Utilization < 0.5:
			plan = append(plan, AllocationPlanEntry{Metric: m, NewLimit: uint64(float64(cur) * 0.8)})
		case m.Utilization > 0.9:
			plan = append(plan, AllocationPlanEntry{Metric: m, NewLimit: uint64(float64(cur) * 1.2)})
		}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Metric.Score > plan[j].Metric.Score })
	return plan
}

// PlanOutcome summarizes an executed allocation plan.
type PlanOutcome struct {
	OK      int
	Failed  int
	Status  string // Completed | PartiallyCompleted | Failed
	Reason  string
}

// ExecuteAllocationPlan credits the computed bounded amount for each
// entry via mana, continuing past individual failures. When dryRun is
// true, amounts are computed and validated but neither the allocator
// limit nor the mana balance is mutated and no event is emitted,
// used to preview a plan's effect before committing it.
func ExecuteAllocationPlan(plan []AllocationPlanEntry, allocator *ResourceAllocator, mana *ManaLedger, events *EventLog, overallHealth float64, dryRun bool) PlanOutcome {
	kMin, kMax := boundsForHealth(overallHealth)
	outcome := PlanOutcome{}
	for _, entry := range plan {
		base := float64(entry.NewLimit)
		m := entry.Metric
		repMult := 1 + m.Reputation/1000
		balFactor := clampFloat(m.BalanceFactor, 0.5, 1.5)
		if balFactor == 0 {
			balFactor = 1
		}
		priorityMult := clampFloat(m.Priority, 0.5, 2.0)
		if priorityMult == 0 {
			priorityMult = 1
		}
		conditionsMult := clampFloat(m.Conditions, 0.5, 1.5)
		if conditionsMult == 0 {
			conditionsMult = 1
		}
		performance := clampFloat(m.Performance, 0.5, 1.5)
		if performance == 0 {
			performance = 1
		}
		networkFactor := clampFloat(m.Network, 0.5, 1.5)
		if networkFactor == 0 {
			networkFactor = 1
		}
		amount := base * repMult * balFactor * priorityMult * conditionsMult * performance * networkFactor
		amount = clampFloat(amount, base/kMin, base*kMax)

		if err := validateAllocationAmount(amount, base); err != nil {
			outcome.Failed++
			continue
		}
		if dryRun {
			outcome.OK++
			continue
		}
		allocator.SetLimit(m.DID, m.Class, uint64(amount))
		if err := mana.Credit(m.DID, uint64(amount)); err != nil {
			outcome.Failed++
			continue
		}
		if events != nil {
			_, _ = events.EmitNamed("ResourceAllocated", struct {
				DID    DID     `json:"did"`
				Class  string  `json:"class"`
				Amount float64 `json:"amount"`
			}{m.DID, m.Class, amount})
		}
		outcome.OK++
	}

	switch {
	case outcome.Failed == 0:
		outcome.Status = "Completed"
	case outcome.OK == 0:
		outcome.Status = "Failed"
		outcome.Reason = "all allocation entries failed validation or credit"
	default:
		outcome.Status = "PartiallyCompleted"
	}
	return outcome
}

// boundsForHealth derives the clamp bounds K_min/K_max from
// overall_health: healthier economies tolerate wider swings.
func boundsForHealth(overallHealth float64) (kMin, kMax float64) {
	kMax = 1.5 + overallHealth
	kMin = 1.5 + overallHealth
	return kMin, kMax
}

func validateAllocationAmount(amount, base float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: non-positive allocation amount", ErrInvalidParameters)
	}
	return nil
}
