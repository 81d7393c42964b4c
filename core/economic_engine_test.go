package core

import (
	"strings"
	"testing"
)

func newTestEconomicEngine(t *testing.T) (*EconomicEngine, *ManaLedger, *ReputationStore, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	events := NewEventLog(store, nil)
	mana := NewManaLedger(nil)
	tokens := NewTokenLedger(nil)
	reputation := NewReputationStore()
	allocator := NewResourceAllocator()
	health := NewHealthMonitor(10)
	penalties := NewPenaltyEngine(mana, tokens, reputation, nil)
	params := NewParameterMap()

	e := NewEconomicEngine(mana, tokens, reputation, allocator, penalties, health, events, params)
	return e, mana, reputation, store
}

func TestManaRegenerationScalesWithReputation(t *testing.T) {
	e, mana, reputation, _ := newTestEconomicEngine(t)
	plain := DID("did:icn:plain")
	trusted := DID("did:icn:trusted")
	if err := mana.SetBalance(plain, 0); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if err := mana.SetBalance(trusted, 0); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	reputation.Set(trusted, 500)

	e.runManaRegeneration()

	plainBal := mana.GetBalance(plain)
	trustedBal := mana.GetBalance(trusted)
	if plainBal == 0 {
		t.Fatalf("expected the base regeneration rate to credit every account")
	}
	if trustedBal <= plainBal {
		t.Fatalf("expected reputation to boost regeneration: plain=%d trusted=%d", plainBal, trustedBal)
	}
}

func TestManaRegenerationHonorsGovernanceCapacity(t *testing.T) {
	e, mana, _, _ := newTestEconomicEngine(t)
	rich := DID("did:icn:rich")
	if err := mana.SetBalance(rich, 9); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	e.params.setLocked("mana_max_capacity", "10")

	for i := 0; i < 5; i++ {
		e.runManaRegeneration()
	}
	if got := mana.GetBalance(rich); got != 10 {
		t.Fatalf("balance = %d, want capped at governance capacity 10", got)
	}
}

func TestPolicyEnforcementTopsUpMinBalance(t *testing.T) {
	e, mana, _, _ := newTestEconomicEngine(t)
	poor := DID("did:icn:poor")
	if err := mana.SetBalance(poor, 40); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	e.SetPolicyBook(NewStaticPolicyBook([]EconomicPolicy{{
		ID:         "regen-floor",
		Type:       PolicyManaRegeneration,
		Parameters: map[string]float64{"min_balance": 100},
		Status:     PolicyActive,
	}}))

	e.runPolicyEnforcement()
	if got := mana.GetBalance(poor); got != 100 {
		t.Fatalf("balance = %d, want topped up to the 100 floor", got)
	}
}

func TestPolicyEnforcementDebitsExcessiveBalance(t *testing.T) {
	e, mana, _, _ := newTestEconomicEngine(t)
	whale := DID("did:icn:whale")
	if err := mana.SetBalance(whale, 150); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	e.SetPolicyBook(NewStaticPolicyBook([]EconomicPolicy{{
		ID:         "anti-hoard",
		Type:       PolicyAntiManipulation,
		Parameters: map[string]float64{"max_balance": 100},
		Status:     PolicyActive,
	}}))

	e.runPolicyEnforcement()
	if got := mana.GetBalance(whale); got > 100 {
		t.Fatalf("balance = %d, want the excess above 100 debited", got)
	}
}

func TestPolicyEnforcementSkipsInactivePolicies(t *testing.T) {
	e, mana, _, _ := newTestEconomicEngine(t)
	poor := DID("did:icn:poor")
	if err := mana.SetBalance(poor, 40); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	e.SetPolicyBook(NewStaticPolicyBook([]EconomicPolicy{{
		ID:         "regen-floor",
		Type:       PolicyManaRegeneration,
		Parameters: map[string]float64{"min_balance": 100},
		Status:     PolicySuspended,
	}}))

	e.runPolicyEnforcement()
	if got := mana.GetBalance(poor); got != 40 {
		t.Fatalf("suspended policy mutated balance: got %d, want 40", got)
	}
}

func TestHealthMonitoringEmitsInequalityEvent(t *testing.T) {
	e, mana, _, store := newTestEconomicEngine(t)
	for _, did := range []DID{"did:icn:a", "did:icn:b", "did:icn:c", "did:icn:d"} {
		if err := mana.SetBalance(did, 0); err != nil {
			t.Fatalf("SetBalance: %v", err)
		}
	}
	if err := mana.SetBalance(DID("did:icn:rich"), 100); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	e.runHealthMonitoring()

	samples := e.health.History()
	if len(samples) != 1 {
		t.Fatalf("expected one health sample, got %d", len(samples))
	}
	if samples[0].OverallHealth != 0.2 {
		t.Fatalf("overall_health = %v, want 0.2", samples[0].OverallHealth)
	}

	blocks, err := store.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	found := false
	for _, b := range blocks {
		if b.Codec == CodecEvent && strings.Contains(string(b.Data), "ThresholdReached") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an anchored ThresholdReached event")
	}
}

func TestMarketMakingUpdatesCounters(t *testing.T) {
	e, _, _, _ := newTestEconomicEngine(t)
	e.RegisterPricingModel(PricingModel{ResourceClass: "cpu", BasePrice: 10, CurrentPrice: 10})

	e.runMarketMaking()
	e.runMarketMaking()

	snap := e.MarketSnapshot()
	if snap.TotalTrades != 2 {
		t.Fatalf("total_trades = %d, want 2", snap.TotalTrades)
	}
	if snap.TotalVolume == 0 || snap.AvgSpreadCaptured == 0 {
		t.Fatalf("expected volume and spread counters to accumulate: total_volume=%v avg_spread_captured=%v", snap.TotalVolume, snap.AvgSpreadCaptured)
	}
}

func TestDynamicPricingRecordsHistory(t *testing.T) {
	e, _, _, _ := newTestEconomicEngine(t)
	e.RegisterPricingModel(PricingModel{
		ResourceClass:     "cpu",
		BasePrice:         10,
		SupplyDemandRatio: 1,
		QualityFactor:     1,
		CompetitionFactor: 1,
	})

	e.runDynamicPricing()
	e.runDynamicPricing()

	e.pricingMu.Lock()
	m := e.pricing["cpu"]
	e.pricingMu.Unlock()
	if len(m.PriceHistory) != 2 {
		t.Fatalf("price_history length = %d, want 2", len(m.PriceHistory))
	}
	if m.CurrentPrice <= 0 {
		t.Fatalf("current price = %v, want positive", m.CurrentPrice)
	}
}
