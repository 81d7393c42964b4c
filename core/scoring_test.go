package core

import "testing"

func baseJob() Job {
	return Job{
		RequiredResources: ResourceSpec{CPU: 1, MemMB: 256},
		MaxCostMana:       100,
	}
}

func TestScoreBidHardFilters(t *testing.T) {
	policy := DefaultSelectionPolicy()
	job := baseJob()
	job.MinReputation = new(int64)
	*job.MinReputation = 5
	job.RequiredCapabilities = []string{"gpu"}

	bid := Bid{BidID: "b1", Executor: DID("did:icn:bob"), PriceMana: 10,
		Resources: ResourceSpec{CPU: 2, MemMB: 512}}

	ctx := BidContext{
		Balance:    func(DID) uint64 { return 1000 },
		Reputation: func(DID) int64 { return 0 },
	}
	if score := ScoreBid(job, bid, policy, ctx); score != 0 {
		t.Fatalf("missing capability should score 0, got %d", score)
	}

	bid.Capabilities = []string{"gpu"}
	if score := ScoreBid(job, bid, policy, ctx); score != 0 {
		t.Fatalf("under min_reputation should score 0, got %d", score)
	}

	ctx.Reputation = func(DID) int64 { return 10 }
	if score := ScoreBid(job, bid, policy, ctx); score <= 0 {
		t.Fatalf("eligible bid should score above 0, got %d", score)
	}
}

func TestScoreBidInsufficientBalanceIsHardFilter(t *testing.T) {
	policy := DefaultSelectionPolicy()
	job := baseJob()
	bid := Bid{BidID: "b1", Executor: DID("did:icn:bob"), PriceMana: 500,
		Resources: ResourceSpec{CPU: 2, MemMB: 512}}
	ctx := BidContext{Balance: func(DID) uint64 { return 10 }}
	if score := ScoreBid(job, bid, policy, ctx); score != 0 {
		t.Fatalf("bid exceeding executor balance should score 0, got %d", score)
	}
}

func TestScoreBidInsufficientResourcesIsHardFilter(t *testing.T) {
	policy := DefaultSelectionPolicy()
	job := baseJob()
	bid := Bid{BidID: "b1", Executor: DID("did:icn:bob"), PriceMana: 5,
		Resources: ResourceSpec{CPU: 0.5, MemMB: 100}}
	ctx := BidContext{Balance: func(DID) uint64 { return 1000 }}
	if score := ScoreBid(job, bid, policy, ctx); score != 0 {
		t.Fatalf("under-resourced bid should score 0, got %d", score)
	}
}

func TestSelectWinnerTieBreaksByLowerBidID(t *testing.T) {
	policy := DefaultSelectionPolicy()
	job := baseJob()
	ctx := BidContext{Balance: func(DID) uint64 { return 1000 }}

	identical := ResourceSpec{CPU: 1, MemMB: 256}
	bidA := Bid{BidID: "bbb", Executor: DID("did:icn:a"), PriceMana: 10, Resources: identical}
	bidB := Bid{BidID: "aaa", Executor: DID("did:icn:b"), PriceMana: 10, Resources: identical}

	winner, _, ok := SelectWinner(job, []Bid{bidA, bidB}, policy, ctx)
	if !ok {
		t.Fatalf("expected a winner")
	}
	if winner.BidID != "aaa" {
		t.Fatalf("winner = %s, want tie-break to lexicographically lower bid id aaa", winner.BidID)
	}
}

func TestSelectWinnerNoEligibleBids(t *testing.T) {
	policy := DefaultSelectionPolicy()
	job := baseJob()
	ctx := BidContext{Balance: func(DID) uint64 { return 0 }}
	bid := Bid{BidID: "b1", Executor: DID("did:icn:bob"), PriceMana: 10, Resources: ResourceSpec{CPU: 2, MemMB: 512}}
	if _, _, ok := SelectWinner(job, []Bid{bid}, policy, ctx); ok {
		t.Fatalf("expected no winner when every bid fails the balance filter")
	}
}
