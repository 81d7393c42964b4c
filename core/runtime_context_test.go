package core

import (
	"errors"
	"testing"
)

func newTestRuntimeContext(t *testing.T) *RuntimeContext {
	t.Helper()
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	resolver := NewMapDIDResolver()
	resolver.Register(signer.DID(), signer.PublicKey(), signer.Algo())
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	rc, err := NewRuntimeContext(RuntimeContextConfig{
		Mode:     ModeTest,
		Signer:   signer,
		Resolver: resolver,
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewRuntimeContext: %v", err)
	}
	return rc
}

func TestNewRuntimeContextRejectsMismatchedIdentity(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	_, err = NewRuntimeContext(RuntimeContextConfig{
		Mode:   ModeTest,
		Self:   DID("did:icn:somebody-else"),
		Signer: signer,
		Store:  store,
	})
	if err == nil {
		t.Fatalf("expected construction to fail when Self differs from the signer's DID")
	}
}

func TestNewRuntimeContextRejectsResolverKeyMismatch(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	other, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	resolver := NewMapDIDResolver()
	// The resolver's document for this DID carries somebody else's key.
	resolver.Register(signer.DID(), other.PublicKey(), other.Algo())

	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	_, err = NewRuntimeContext(RuntimeContextConfig{
		Mode:     ModeTest,
		Signer:   signer,
		Resolver: resolver,
		Store:    store,
	})
	if err == nil {
		t.Fatalf("expected construction to fail when the resolved key does not match the signer")
	}
}

func TestNewRuntimeContextProductionRejectsStubWiring(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	_, err = NewRuntimeContext(RuntimeContextConfig{
		Mode:   ModeProduction,
		Signer: signer,
		Store:  store,
	})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Fatalf("expected production mode to reject an in-memory store, got %v", err)
	}
}

func TestRecordResourceEventChargesCrossCoopFee(t *testing.T) {
	rc := newTestRuntimeContext(t)
	if err := rc.Mana.SetBalance(rc.Self, 50); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}

	if err := rc.RecordResourceEvent("gpu-0", ResourceAcquire, "coop-b", 20); err != nil {
		t.Fatalf("RecordResourceEvent: %v", err)
	}
	// 20 plus the 10% cross-coop fee (2).
	if got := rc.Mana.GetBalance(rc.Self); got != 28 {
		t.Fatalf("balance after cross-coop event = %d, want 28", got)
	}

	if err := rc.RecordResourceEvent("gpu-0", ResourceConsume, "", 20); err != nil {
		t.Fatalf("RecordResourceEvent in-coop: %v", err)
	}
	if got := rc.Mana.GetBalance(rc.Self); got != 8 {
		t.Fatalf("balance after in-coop event = %d, want 8", got)
	}
}

func TestRecordResourceEventInsufficientBalance(t *testing.T) {
	rc := newTestRuntimeContext(t)
	if err := rc.Mana.SetBalance(rc.Self, 5); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	err := rc.RecordResourceEvent("disk-0", ResourceConsume, "", 20)
	if !errors.Is(err, ErrInsufficientMana) {
		t.Fatalf("got %v, want ErrInsufficientMana", err)
	}
	if got := rc.Mana.GetBalance(rc.Self); got != 5 {
		t.Fatalf("failed event mutated balance: got %d, want 5", got)
	}
}

func TestRuntimeContextGovernanceRoundTrip(t *testing.T) {
	rc := newTestRuntimeContext(t)
	id, err := rc.CreateGovernanceProposal(map[string]string{"mana_max_capacity": "20000"})
	if err != nil {
		t.Fatalf("CreateGovernanceProposal: %v", err)
	}
	if err := rc.CastGovernanceVote(id, true); err != nil {
		t.Fatalf("CastGovernanceVote: %v", err)
	}
	approve, reject := rc.Governance.Tally(id)
	if approve != 1 || reject != 0 {
		t.Fatalf("tally = %d/%d, want 1/0", approve, reject)
	}
	if err := rc.Governance.ApplyProposal(id); err != nil {
		t.Fatalf("ApplyProposal: %v", err)
	}
	if v, ok := rc.Params.Get("mana_max_capacity"); !ok || v != "20000" {
		t.Fatalf("parameter not applied: got %q ok=%v", v, ok)
	}
}
