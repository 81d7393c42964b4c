package core

import (
	"testing"
	"time"
)

type fixedProbe struct {
	cpu float64
	mem float64
}

func (p fixedProbe) AvailableCPU() float64   { return p.cpu }
func (p fixedProbe) AvailableMemMB() float64 { return p.mem }

func newTestExecutorManager(t *testing.T, probe SystemProbe) (*ExecutorManager, *ManaLedger) {
	t.Helper()
	mana := NewManaLedger(nil)
	reputation := NewReputationStore()
	self := DID("did:icn:bob")
	if err := mana.SetBalance(self, 1000); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	m := NewExecutorManager(self, nil, mana, reputation, probe, store, nil, []JobKind{KindEcho})
	return m, mana
}

func TestDecideBidRefusesBelowManaFloor(t *testing.T) {
	m, mana := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	if err := mana.SetBalance(m.self, 10); err != nil {
		t.Fatalf("SetBalance: %v", err)
	}
	ann := JobAnnouncement{Kind: KindEcho, BidDeadline: m.clock().Add(time.Hour)}
	if _, ok := m.DecideBid(ann, ResourceSpec{CPU: 1, MemMB: 256}, 10); ok {
		t.Fatalf("expected refusal when mana below the 50 floor")
	}
}

func TestDecideBidRefusesInsufficientResources(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 0.5, mem: 128})
	ann := JobAnnouncement{Kind: KindEcho, BidDeadline: m.clock().Add(time.Hour)}
	if _, ok := m.DecideBid(ann, ResourceSpec{CPU: 1, MemMB: 256}, 10); ok {
		t.Fatalf("expected refusal when available resources are short")
	}
}

func TestDecideBidRefusesUnsupportedKind(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	ann := JobAnnouncement{Kind: KindWasm, BidDeadline: m.clock().Add(time.Hour)}
	if _, ok := m.DecideBid(ann, ResourceSpec{CPU: 1, MemMB: 256}, 10); ok {
		t.Fatalf("expected refusal for an unsupported job kind")
	}
}

func TestDecideBidRefusesPastDeadline(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	ann := JobAnnouncement{Kind: KindEcho, BidDeadline: m.clock().Add(-time.Second)}
	if _, ok := m.DecideBid(ann, ResourceSpec{CPU: 1, MemMB: 256}, 10); ok {
		t.Fatalf("expected refusal past the bid deadline")
	}
}

func TestDecideBidClampsIntoRange(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	m.SetMaxCostMana(1000)
	ann := JobAnnouncement{Kind: KindEcho, BidDeadline: m.clock().Add(time.Hour)}
	bid, ok := m.DecideBid(ann, ResourceSpec{CPU: 1, MemMB: 256}, 60)
	if !ok {
		t.Fatalf("expected a bid")
	}
	if bid.PriceMana < 1 || bid.PriceMana > m.maxCostMana {
		t.Fatalf("price %d out of clamp range [1,%d]", bid.PriceMana, m.maxCostMana)
	}
}

func TestDecideBidRefusesWhenPreClampPriceExceedsMax(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 1000, mem: 2048})
	m.SetMaxCostMana(5)
	ann := JobAnnouncement{Kind: KindEcho, BidDeadline: m.clock().Add(time.Hour)}
	// A huge required.CPU drives the unclamped price formula far past
	// maxCostMana; the node must refuse rather than silently bid the
	// clamped ceiling.
	if _, ok := m.DecideBid(ann, ResourceSpec{CPU: 1000, MemMB: 256}, 60); ok {
		t.Fatalf("expected refusal when the unclamped price exceeds max_cost_mana")
	}
}

func TestDecideBidIsDeterministicForSameInputs(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	ann := JobAnnouncement{JobID: CID{9, 9, 9}, Kind: KindEcho, BidDeadline: m.clock().Add(time.Hour)}
	fixedNow := m.clock()
	m.clock = func() time.Time { return fixedNow }
	req := ResourceSpec{CPU: 1, MemMB: 256}

	bidA, okA := m.DecideBid(ann, req, 30)
	bidB, okB := m.DecideBid(ann, req, 30)
	if !okA || !okB {
		t.Fatalf("expected both bids to be offered")
	}
	if bidA.PriceMana != bidB.PriceMana {
		t.Fatalf("price formula is not deterministic: %d != %d", bidA.PriceMana, bidB.PriceMana)
	}
}

func TestExecuteEchoProducesExpectedResult(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	// The echo output links to its job block, which the store requires
	// to be present, as it is for any job the engine can look up.
	jobBlk := Block{Codec: CodecJob, Data: []byte("echo job"), Timestamp: time.Unix(0, 1).UTC(), Author: DID("did:icn:alice")}
	jobBlk.CID = CIDFromBlock(jobBlk)
	if _, err := m.store.Put(jobBlk); err != nil {
		t.Fatalf("Put job block: %v", err)
	}
	job := Job{ID: jobBlk.CID, Kind: KindEcho, SpecBytes: []byte("hi")}
	receipt, err := m.Execute(job, Assignment{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !receipt.Success {
		t.Fatalf("expected a successful echo receipt, got error %q", receipt.Error)
	}
	blk, ok, err := m.store.Get(receipt.ResultCID)
	if err != nil || !ok {
		t.Fatalf("expected echo result block stored, ok=%v err=%v", ok, err)
	}
	if string(blk.Data) != "Echo result: hi" {
		t.Fatalf("got %q, want %q", blk.Data, "Echo result: hi")
	}
}

func TestExecuteGenericIsRejected(t *testing.T) {
	m, _ := newTestExecutorManager(t, fixedProbe{cpu: 4, mem: 2048})
	job := Job{Kind: KindGeneric}
	receipt, err := m.Execute(job, Assignment{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if receipt.Success {
		t.Fatalf("expected generic jobs to fail without configuration")
	}
}
