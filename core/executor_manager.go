package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// SystemProbe reports locally observable resource availability. It is
// a small capability abstraction so the executor manager never reads
// the OS directly, keeping it testable with fixed readings.
type SystemProbe interface {
	AvailableCPU() float64
	AvailableMemMB() float64
}

// ExecutorManager evaluates foreign job announcements, decides
// whether to bid, and executes jobs assigned to this node (C8).
type ExecutorManager struct {
	self          DID
	signer        Signer
	mana          *ManaLedger
	reputation    *ReputationStore
	probe         SystemProbe
	store         BlockStore
	announcer     Announcer
	supportedKind map[JobKind]bool
	maxCostMana   uint64
	clock         func() time.Time
	wasm          WasmExecutor
}

// WasmExecutor sandboxes Wasm-kind job execution (the boundary with
// the external WASM sandbox collaborator).
type WasmExecutor interface {
	Run(manifestCID CID, input []byte, maxExecSecs uint64) (resultCID CID, cpuMillis uint64, err error)
}

// NewExecutorManager wires the executor manager to its dependencies.
// kinds lists the job kinds this node can execute.
func NewExecutorManager(self DID, signer Signer, mana *ManaLedger, reputation *ReputationStore, probe SystemProbe, store BlockStore, announcer Announcer, kinds []JobKind) *ExecutorManager {
	supported := make(map[JobKind]bool, len(kinds))
	for _, k := range kinds {
		supported[k] = true
	}
	return &ExecutorManager{
		self:          self,
		signer:        signer,
		mana:          mana,
		reputation:    reputation,
		probe:         probe,
		store:         store,
		announcer:     announcer,
		supportedKind: supported,
		maxCostMana:   1000,
		clock:         time.Now,
	}
}

// SetWasmExecutor wires the Wasm sandbox used to execute Wasm-kind jobs.
func (m *ExecutorManager) SetWasmExecutor(w WasmExecutor) { m.wasm = w }

// SetMaxCostMana overrides the maximum bid price this node will offer.
func (m *ExecutorManager) SetMaxCostMana(v uint64) { m.maxCostMana = v }

// hashU64 hashes a job CID together with a reputation score into a
// stable 64-bit value used to deterministically jitter bid prices.
func hashU64(jobID CID, reputation int64) uint64 {
	var buf [40]byte
	copy(buf[:32], jobID[:])
	binary.BigEndian.PutUint64(buf[32:], uint64(reputation))
	h := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(h[:8])
}

func jitter(jobID CID, reputation int64) float64 {
	frac := float64(hashU64(jobID, reputation)) / float64(^uint64(0))
	return 0.9 + frac*0.2
}

// DecideBid implements the deterministic decision-to-bid procedure
// It returns ok=false when the node should not bid.
func (m *ExecutorManager) DecideBid(ann JobAnnouncement, required ResourceSpec, maxExecSecs uint64) (Bid, bool) {
	if m.mana.GetBalance(m.self) < 50 {
		return Bid{}, false
	}
	if m.probe != nil {
		if m.probe.AvailableCPU() < required.CPU || m.probe.AvailableMemMB() < required.MemMB {
			return Bid{}, false
		}
	}
	kind := inferKind(ann)
	if !m.supportedKind[kind] {
		return Bid{}, false
	}
	if m.clock().After(ann.BidDeadline) {
		return Bid{}, false
	}

	reputation := m.reputation.Get(m.self)
	price := (2*required.CPU + required.MemMB/100 + float64(maxExecSecs)/60 + 5) *
		(1 + float64(reputation)/1000) * jitter(ann.JobID, reputation)
	if price > float64(m.maxCostMana) {
		return Bid{}, false
	}
	price = clampFloat(price, 1, float64(m.maxCostMana))

	bid := Bid{
		JobID:       ann.JobID,
		BidID:       fmt.Sprintf("%s:%d", m.self, m.clock().UnixNano()),
		Executor:    m.self,
		PriceMana:   uint64(price),
		Resources:   required,
		SubmittedAt: m.clock(),
	}
	if m.signer != nil {
		data, err := encodeJSON(bid)
		if err == nil {
			if sig, err := m.signer.Sign(data); err == nil {
				bid.Signature = sig
			}
		}
	}
	return bid, true
}

// inferKind reads the kind the announcer tagged the job with. Announcements
// that omit it (older peers, malformed gossip) fall back to Echo so a
// conservative executor still has something to evaluate.
func inferKind(ann JobAnnouncement) JobKind {
	if ann.Kind == "" {
		return KindEcho
	}
	return ann.Kind
}

// Execute dispatches assigned-job execution by kind and returns a
// signed Receipt. A panic inside execution is converted to a failed
// receipt rather than corrupting the ledger.
func (m *ExecutorManager) Execute(job Job, assignment Assignment) (receipt Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			receipt = Receipt{
				JobID:       job.ID,
				Executor:    m.self,
				Success:     false,
				Error:       fmt.Sprintf("panic: %v", r),
				CompletedAt: m.clock(),
			}
			err = nil
		}
	}()

	start := m.clock()
	var resultCID CID
	var cpuMillis uint64
	var execErr error

	switch job.Kind {
	case KindEcho:
		resultCID, execErr = m.executeEcho(job)
		cpuMillis = uint64(m.clock().Sub(start).Milliseconds())
	case KindWasm:
		if m.wasm == nil {
			execErr = fmt.Errorf("%w: no wasm executor configured", ErrInternal)
			break
		}
		resultCID, cpuMillis, execErr = m.wasm.Run(job.ManifestCID, job.SpecBytes, job.MaxExecSecs)
	case KindGeneric:
		execErr = fmt.Errorf("%w: generic jobs are not executable without configuration", ErrInvalidParameters)
	default:
		execErr = fmt.Errorf("%w: unknown job kind %s", ErrInvalidParameters, job.Kind)
	}

	receipt = Receipt{
		JobID:       job.ID,
		Executor:    m.self,
		Success:     execErr == nil,
		CPUMillis:   cpuMillis,
		ResultCID:   resultCID,
		CompletedAt: m.clock(),
	}
	if execErr != nil {
		receipt.Error = execErr.Error()
	}
	if m.signer != nil {
		msgData, encErr := encodeJSON(struct {
			JobID     CID
			Executor  DID
			Success   bool
			CPUMillis uint64
			ResultCID CID
		}{receipt.JobID, receipt.Executor, receipt.Success, receipt.CPUMillis, receipt.ResultCID})
		if encErr == nil {
			if sig, sigErr := m.signer.Sign(msgData); sigErr == nil {
				receipt.Signature = sig
			}
		}
	}
	return receipt, nil
}

func (m *ExecutorManager) executeEcho(job Job) (CID, error) {
	payload := append([]byte("Echo result: "), job.SpecBytes...)
	now := m.clock()
	links := []Link{{CID: job.ID, Name: "job"}}
	cid := ComputeCID(CodecOutput, payload, links, now.UnixNano(), m.self, nil, "")
	blk := Block{CID: cid, Codec: CodecOutput, Data: payload, Links: links, Timestamp: now, Author: m.self}
	if _, err := m.store.Put(blk); err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return cid, nil
}
