package core

import (
	"testing"
	"time"
)

func newTestPenaltyEngine(t *testing.T) (*PenaltyEngine, *ManaLedger, *TokenLedger, *ReputationStore) {
	t.Helper()
	mana := NewManaLedger(nil)
	tokens := NewTokenLedger(nil)
	reputation := NewReputationStore()
	return NewPenaltyEngine(mana, tokens, reputation, nil), mana, tokens, reputation
}

func TestApplyManaPenaltyDebitsBalance(t *testing.T) {
	p, mana, _, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if err := mana.SetBalance(violator, 500); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if err := p.ApplyMana(violator, 100); err != nil {
		t.Fatalf("ApplyMana: %v", err)
	}
	if got := mana.GetBalance(violator); got != 400 {
		t.Fatalf("got balance %d, want 400", got)
	}
}

func TestApplyManaPenaltyFailsWhenInsufficientBalance(t *testing.T) {
	p, mana, _, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if err := mana.SetBalance(violator, 10); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	if err := p.ApplyMana(violator, 100); err == nil {
		t.Fatalf("expected an error when the violator cannot cover the penalty")
	}
}

func TestApplyTokenConfiscationMovesBalanceToTreasury(t *testing.T) {
	p, _, tokens, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if err := tokens.RegisterClass(TokenClass{
		ClassID:         "reward",
		Transferability: TransferAlways,
		IssuersByScope:  map[string][]DID{"global": {DID("did:icn:issuer")}},
	}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := tokens.Mint(DID("did:icn:issuer"), "reward", "global", violator, 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := p.ApplyTokenConfiscation(violator, 40); err != nil {
		t.Fatalf("ApplyTokenConfiscation: %v", err)
	}
	if got := tokens.GetBalance("reward", violator); got != 60 {
		t.Fatalf("got violator balance %d, want 60", got)
	}
	if got := tokens.GetBalance("reward", TreasuryDID); got != 40 {
		t.Fatalf("got treasury balance %d, want 40", got)
	}
}

func TestApplyTokenConfiscationRejectsTreasuryAsViolator(t *testing.T) {
	p, _, _, _ := newTestPenaltyEngine(t)
	if err := p.ApplyTokenConfiscation(TreasuryDID, 1); err == nil {
		t.Fatalf("expected an error when the treasury is named as its own violator")
	}
}

func TestApplyTokenConfiscationCapsAtAvailableBalance(t *testing.T) {
	p, _, tokens, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if err := tokens.RegisterClass(TokenClass{
		ClassID:         "reward",
		Transferability: TransferAlways,
		IssuersByScope:  map[string][]DID{"global": {DID("did:icn:issuer")}},
	}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := tokens.Mint(DID("did:icn:issuer"), "reward", "global", violator, 10); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := p.ApplyTokenConfiscation(violator, 1000); err != nil {
		t.Fatalf("ApplyTokenConfiscation: %v", err)
	}
	if got := tokens.GetBalance("reward", violator); got != 0 {
		t.Fatalf("got violator balance %d, want 0", got)
	}
	if got := tokens.GetBalance("reward", TreasuryDID); got != 10 {
		t.Fatalf("got treasury balance %d, want capped at 10", got)
	}
}

func TestApplyResourceRestrictionRecordsBySeverity(t *testing.T) {
	p, _, _, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	p.ApplyResourceRestriction(violator, SeverityHigh, 0)
	restrictions := p.Restrictions(violator)
	if len(restrictions) != 1 {
		t.Fatalf("got %d restrictions, want 1", len(restrictions))
	}
	if restrictions[0].Resource != "network" {
		t.Fatalf("got resource %q, want network for high severity", restrictions[0].Resource)
	}
	if restrictions[0].EndTime != nil {
		t.Fatalf("expected a zero duration to leave EndTime nil, got %v", restrictions[0].EndTime)
	}
}

func TestSweepExpiredDropsOnlyElapsedRestrictions(t *testing.T) {
	p, _, _, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	p.ApplyResourceRestriction(violator, SeverityLow, time.Millisecond)
	p.ApplyResourceRestriction(violator, SeverityHigh, 0) // no expiry

	if n := p.SweepExpired(time.Now().Add(time.Second)); n != 1 {
		t.Fatalf("swept %d restrictions, want 1", n)
	}
	remaining := p.Restrictions(violator)
	if len(remaining) != 1 || remaining[0].Severity != SeverityHigh {
		t.Fatalf("expected only the unexpiring restriction to survive, got %+v", remaining)
	}
	if n := p.SweepExpired(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("unexpiring restriction swept: %d", n)
	}
}

func TestApplyReputationPenaltyRecordsAtLeastOneFailure(t *testing.T) {
	p, _, _, reputation := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	before := reputation.Get(violator)
	p.ApplyReputationPenalty(violator, 5) // amount/10 == 0, floors to 1 failure
	after := reputation.Get(violator)
	if after >= before {
		t.Fatalf("expected reputation to drop, got before=%d after=%d", before, after)
	}
}

func TestApplyReputationPenaltyScalesWithAmount(t *testing.T) {
	p, _, _, reputation := newTestPenaltyEngine(t)
	small := DID("did:icn:alice")
	large := DID("did:icn:bob")
	p.ApplyReputationPenalty(small, 10)
	p.ApplyReputationPenalty(large, 100)
	if reputation.Get(large) >= reputation.Get(small) {
		t.Fatalf("expected a larger penalty amount to produce a lower score: small=%d large=%d", reputation.Get(small), reputation.Get(large))
	}
}

func TestApplyMarketBanFlagsIdentity(t *testing.T) {
	p, _, _, _ := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if p.IsMarketBanned(violator) {
		t.Fatalf("expected no market ban before ApplyMarketBan")
	}
	p.ApplyMarketBan(violator)
	if !p.IsMarketBanned(violator) {
		t.Fatalf("expected the violator to be market-banned")
	}
}

func TestApplyWarningDoesNotMutateState(t *testing.T) {
	p, mana, _, reputation := newTestPenaltyEngine(t)
	violator := DID("did:icn:alice")
	if err := mana.SetBalance(violator, 100); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	before := reputation.Get(violator)
	p.ApplyWarning(violator, "late_heartbeat")
	if got := mana.GetBalance(violator); got != 100 {
		t.Fatalf("warning mutated mana balance: got %d, want 100", got)
	}
	if got := reputation.Get(violator); got != before {
		t.Fatalf("warning mutated reputation: got %d, want %d", got, before)
	}
}
