package core

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EngineIntervals configures the six periodic tasks; zero
// values fall back to the documented defaults.
type EngineIntervals struct {
	ManaRegeneration   time.Duration
	DynamicPricing     time.Duration
	AllocationOptimize time.Duration
	PolicyEnforcement  time.Duration
	HealthMonitoring   time.Duration
	MarketMaking       time.Duration
}

// DefaultEngineIntervals mirrors the documented defaults exactly.
func DefaultEngineIntervals() EngineIntervals {
	return EngineIntervals{
		ManaRegeneration:   1 * time.Second,
		DynamicPricing:     30 * time.Second,
		AllocationOptimize: 5 * time.Minute,
		PolicyEnforcement:  2 * time.Minute,
		HealthMonitoring:   1 * time.Minute,
		MarketMaking:       10 * time.Second,
	}
}

// MarketCounters accumulates market-making performance metrics.
type MarketCounters struct {
	mu                 sync.Mutex
	TotalTrades        uint64
	TotalVolume        float64
	TotalPNL           float64
	AvgSpreadCaptured  float64
}

func (c *MarketCounters) record(volume, spread, pnl float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := float64(c.TotalTrades)
	c.AvgSpreadCaptured = (c.AvgSpreadCaptured*n + spread) / (n + 1)
	c.TotalTrades++
	c.TotalVolume += volume
	c.TotalPNL += pnl
}

// EconomicEngine runs the six background periodic tasks as
// independent goroutines communicating only through their owning
// ledgers, the shared ParameterMap, and bounded channels, never a
// shared mutable global.
type EconomicEngine struct {
	mana         *ManaLedger
	tokens       *TokenLedger
	reputation   *ReputationStore
	allocator    *ResourceAllocator
	penalties    *PenaltyEngine
	health       *HealthMonitor
	events       *EventLog
	params       *ParameterMap
	clock        func() time.Time
	intervals    EngineIntervals

	pricingMu sync.Mutex
	pricing   map[string]*PricingModel

	market MarketCounters

	regenBaseRate float64
	regenK        float64

	allocMu      sync.Mutex
	pendingAlloc []AllocationMetric

	policyMu sync.Mutex
	policies PolicyBook

	wg     sync.WaitGroup
	cancel chan struct{}
}

// NewEconomicEngine wires the automation engine to its dependencies.
func NewEconomicEngine(mana *ManaLedger, tokens *TokenLedger, reputation *ReputationStore, allocator *ResourceAllocator, penalties *PenaltyEngine, health *HealthMonitor, events *EventLog, params *ParameterMap) *EconomicEngine {
	return &EconomicEngine{
		mana:          mana,
		tokens:        tokens,
		reputation:    reputation,
		allocator:     allocator,
		penalties:     penalties,
		health:        health,
		events:        events,
		params:        params,
		clock:         time.Now,
		intervals:     DefaultEngineIntervals(),
		pricing:       make(map[string]*PricingModel),
		regenBaseRate: 1,
		regenK:        0.01,
		cancel:        make(chan struct{}),
	}
}

// SetIntervals overrides the periodic task cadence, used by tests
// that need to observe a full cycle quickly.
func (e *EconomicEngine) SetIntervals(i EngineIntervals) { e.intervals = i }

// RegisterPricingModel seeds a resource class's pricing model.
func (e *EconomicEngine) RegisterPricingModel(m PricingModel) {
	e.pricingMu.Lock()
	defer e.pricingMu.Unlock()
	cp := m
	e.pricing[m.ResourceClass] = &cp
}

// Start launches all six periodic tasks. Each is cancelled atomically
// by Stop.
func (e *EconomicEngine) Start() {
	d := DefaultEngineIntervals()
	pick := func(v, def time.Duration) time.Duration {
		if v <= 0 {
			return def
		}
		return v
	}
	tasks := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"mana_regeneration", pick(e.intervals.ManaRegeneration, d.ManaRegeneration), e.runManaRegeneration},
		{"dynamic_pricing", pick(e.intervals.DynamicPricing, d.DynamicPricing), e.runDynamicPricing},
		{"allocation_optimization", pick(e.intervals.AllocationOptimize, d.AllocationOptimize), e.runAllocationOptimization},
		{"policy_enforcement", pick(e.intervals.PolicyEnforcement, d.PolicyEnforcement), e.runPolicyEnforcement},
		{"health_monitoring", pick(e.intervals.HealthMonitoring, d.HealthMonitoring), e.runHealthMonitoring},
		{"market_making", pick(e.intervals.MarketMaking, d.MarketMaking), e.runMarketMaking},
	}
	for _, t := range tasks {
		e.wg.Add(1)
		go e.loop(t.name, t.interval, t.run)
	}
}

// Stop cancels every periodic task and waits for them to exit.
func (e *EconomicEngine) Stop() {
	close(e.cancel)
	e.wg.Wait()
}

func (e *EconomicEngine) loop(name string, interval time.Duration, run func()) {
	defer e.wg.Done()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.cancel:
			return
		case <-ticker.C:
			e.safeRun(name, run)
		}
	}
}

// safeRun logs and continues past a task error rather than aborting
// the engine; the task loop resumes on its next tick.
func (e *EconomicEngine) safeRun(name string, run func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("task", name).Errorf("economic_engine: task panicked: %v", r)
		}
	}()
	run()
}

func (e *EconomicEngine) manaMaxCapacity() uint64 {
	if v, ok := e.params.Get("mana_max_capacity"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 10000
}

// runManaRegeneration implements task 1.
func (e *EconomicEngine) runManaRegeneration() {
	capacity := e.manaMaxCapacity()
	now := e.clock()
	for _, acct := range e.mana.AllAccounts() {
		reputation := float64(e.reputation.Get(acct.DID))
		regen := uint64(e.regenBaseRate + reputation*e.regenK)
		if err := e.mana.ApplyRegeneration(acct.DID, regen, capacity, now); err != nil {
			logrus.WithError(err).Warn("economic_engine: mana regeneration failed")
			continue
		}
		if e.events != nil {
			_, _ = e.events.EmitNamed("ManaRegenerated", struct {
				DID    DID    `json:"did"`
				Amount uint64 `json:"amount"`
			}{acct.DID, regen})
		}
	}
}

// runDynamicPricing implements task 2.
func (e *EconomicEngine) runDynamicPricing() {
	e.pricingMu.Lock()
	defer e.pricingMu.Unlock()
	hour := e.clock().UTC().Hour()
	for _, m := range e.pricing {
		price := NewPrice(*m, 1.0, 0, 1, hour)
		m.CurrentPrice = price
		m.PriceHistory = append(m.PriceHistory, price)
		if len(m.PriceHistory) > 100 {
			m.PriceHistory = m.PriceHistory[len(m.PriceHistory)-100:]
		}
		m.LastUpdated = e.clock()
	}
}

// runAllocationOptimization implements task 3, using whatever
// metrics the caller has registered via RecordAllocationMetrics.
func (e *EconomicEngine) runAllocationOptimization() {
	metrics := e.collectAllocationMetrics()
	if len(metrics) == 0 {
		return
	}
	plan := ProposeAllocationPlan(e.allocator, metrics)
	if len(plan) == 0 {
		return
	}
	health := 1.0
	if samples := e.health.History(); len(samples) > 0 {
		health = samples[len(samples)-1].OverallHealth
	}
	ExecuteAllocationPlan(plan, e.allocator, e.mana, e.events, health, false)
}

// RecordAllocationMetrics supplies the next allocation-optimization
// tick with observed utilization metrics; callers invoke this between
// ticks as they observe resource consumption.
func (e *EconomicEngine) RecordAllocationMetrics(metrics []AllocationMetric) {
	e.allocMu.Lock()
	e.pendingAlloc = append(e.pendingAlloc, metrics...)
	e.allocMu.Unlock()
}

func (e *EconomicEngine) collectAllocationMetrics() []AllocationMetric {
	e.allocMu.Lock()
	defer e.allocMu.Unlock()
	out := e.pendingAlloc
	e.pendingAlloc = nil
	return out
}

// PolicyBook supplies the active policy set for enforcement; the
// engine does not own policy storage, keeping it swappable.
type PolicyBook interface {
	ActivePolicies() []EconomicPolicy
}

var _ PolicyBook = (*staticPolicyBook)(nil)

type staticPolicyBook struct{ policies []EconomicPolicy }

func (s *staticPolicyBook) ActivePolicies() []EconomicPolicy { return s.policies }

// NewStaticPolicyBook wraps a fixed policy slice as a PolicyBook.
func NewStaticPolicyBook(policies []EconomicPolicy) PolicyBook {
	return &staticPolicyBook{policies: policies}
}

// SetPolicyBook installs the policy source read by policy
// enforcement.
func (e *EconomicEngine) SetPolicyBook(book PolicyBook) {
	e.policyMu.Lock()
	e.policies = book
	e.policyMu.Unlock()
}

// runPolicyEnforcement implements task 4.
func (e *EconomicEngine) runPolicyEnforcement() {
	e.policyMu.Lock()
	book := e.policies
	e.policyMu.Unlock()
	if book == nil {
		return
	}
	for _, policy := range book.ActivePolicies() {
		if policy.Status != PolicyActive {
			continue
		}
		switch policy.Type {
		case PolicyManaRegeneration:
			minBalance := uint64(policy.Parameters["min_balance"])
			for _, acct := range e.mana.AllAccounts() {
				if acct.Balance < minBalance {
					diff := minBalance - acct.Balance
					_ = e.mana.Credit(acct.DID, diff)
				}
			}
		case PolicyAntiManipulation:
			maxBalance := uint64(policy.Parameters["max_balance"])
			if maxBalance == 0 {
				continue
			}
			for _, acct := range e.mana.AllAccounts() {
				if acct.Balance > maxBalance {
					excess := acct.Balance - maxBalance
					if _, err := e.mana.Spend(acct.DID, clampSpend(excess)); err == nil {
						if e.events != nil {
							_, _ = e.events.EmitNamed("PolicyViolation", struct {
								DID    DID    `json:"did"`
								Kind   string `json:"kind"`
								Amount uint64 `json:"amount"`
							}{acct.DID, "ExcessiveConsumption", excess})
						}
						if e.penalties != nil {
							_ = e.penalties.ApplyMana(acct.DID, clampSpend(excess))
						}
					}
				}
			}
		}
	}
}

func clampSpend(v uint64) uint64 {
	if v > MaxSpendLimit {
		return MaxSpendLimit
	}
	return v
}

// runHealthMonitoring implements task 5. Expired resource
// restrictions are swept on the same tick.
func (e *EconomicEngine) runHealthMonitoring() {
	if e.penalties != nil {
		e.penalties.SweepExpired(e.clock())
	}
	accounts := e.mana.AllAccounts()
	balances := make([]uint64, len(accounts))
	for i, a := range accounts {
		balances[i] = a.Balance
	}
	_, alarm := e.health.Observe(balances)
	if alarm && e.events != nil {
		_, _ = e.events.EmitNamed("ThresholdReached", struct {
			Kind string `json:"kind"`
		}{"EconomicInequality"})
	}
}

// runMarketMaking implements task 6.
func (e *EconomicEngine) runMarketMaking() {
	e.pricingMu.Lock()
	defer e.pricingMu.Unlock()
	for _, m := range e.pricing {
		spread := m.CurrentPrice * 0.01
		e.market.record(m.CurrentPrice, spread, 0)
	}
}

// MarketSnapshot reports the current market-making counters.
func (e *EconomicEngine) MarketSnapshot() MarketCounters {
	e.market.mu.Lock()
	defer e.market.mu.Unlock()
	return MarketCounters{
		TotalTrades:       e.market.TotalTrades,
		TotalVolume:       e.market.TotalVolume,
		TotalPNL:          e.market.TotalPNL,
		AvgSpreadCaptured: e.market.AvgSpreadCaptured,
	}
}
