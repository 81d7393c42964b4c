package core

import "testing"

func newTestGovernance(t *testing.T) *GovernanceModule {
	t.Helper()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return NewGovernanceModule(store, NewParameterMap())
}

func TestGovernanceProposalVoteTally(t *testing.T) {
	g := newTestGovernance(t)
	id, err := g.CreateProposal(DID("did:icn:alice"), map[string]string{"mana_max_capacity": "20000"})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if id == "" {
		t.Fatalf("expected a non-empty proposal id")
	}

	if err := g.CastVote(Vote{ProposalID: id, Voter: DID("did:icn:bob"), Approve: true}); err != nil {
		t.Fatalf("CastVote approve: %v", err)
	}
	if err := g.CastVote(Vote{ProposalID: id, Voter: DID("did:icn:carol"), Approve: false}); err != nil {
		t.Fatalf("CastVote reject: %v", err)
	}

	approve, reject := g.Tally(id)
	if approve != 1 || reject != 1 {
		t.Fatalf("got approve=%d reject=%d, want 1/1", approve, reject)
	}
}

func TestGovernanceCastVoteOnUnknownProposal(t *testing.T) {
	g := newTestGovernance(t)
	err := g.CastVote(Vote{ProposalID: "nonexistent", Voter: DID("did:icn:bob"), Approve: true})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGovernanceApplyProposalUpdatesParameterMap(t *testing.T) {
	g := newTestGovernance(t)
	id, err := g.CreateProposal(DID("did:icn:alice"), map[string]string{"mana_max_capacity": "50000"})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	if err := g.ApplyProposal(id); err != nil {
		t.Fatalf("ApplyProposal: %v", err)
	}
	v, ok := g.params.Get("mana_max_capacity")
	if !ok || v != "50000" {
		t.Fatalf("got %q (ok=%v), want 50000", v, ok)
	}
}

func TestGovernanceApplyProposalAnchorsParameterChange(t *testing.T) {
	g := newTestGovernance(t)
	id, err := g.CreateProposal(DID("did:icn:alice"), map[string]string{"open_rate_limit": "250"})
	if err != nil {
		t.Fatalf("CreateProposal: %v", err)
	}
	before, err := g.store.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if err := g.ApplyProposal(id); err != nil {
		t.Fatalf("ApplyProposal: %v", err)
	}
	after, err := g.store.ListBlocks()
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(after) != len(before)+1 {
		t.Fatalf("expected ApplyProposal to anchor exactly one new block, got %d -> %d", len(before), len(after))
	}
	found := false
	for _, b := range after {
		if b.Codec == CodecParamChange {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an anchored param_change block")
	}
}

func TestGovernanceApplyUnknownProposal(t *testing.T) {
	g := newTestGovernance(t)
	if err := g.ApplyProposal("nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
