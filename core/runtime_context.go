package core

import (
	"bytes"
	"fmt"
	"time"
)

// ProductionMode selects whether a RuntimeContext requires durable,
// networked collaborators or accepts in-memory stubs, mirroring the
// node's stub/production wiring switch.
type ProductionMode int

const (
	ModeTest ProductionMode = iota
	ModeProduction
)

// storeModuleLoader adapts a BlockStore into a WasmModuleLoader: Wasm
// manifests are ordinary blocks, addressed like any other DAG content.
type storeModuleLoader struct {
	store BlockStore
}

func (l storeModuleLoader) LoadModule(manifestCID CID) ([]byte, error) {
	blk, ok, err := l.store.Get(manifestCID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return blk.Data, nil
}

// durabilityReporter is implemented by BlockStore backends that can
// distinguish a durable (WAL-backed) configuration from a pure
// in-memory one used by fast unit tests. NewRuntimeContext consults
// it to reject non-durable wiring in ModeProduction.
type durabilityReporter interface {
	IsDurable() bool
}

// RuntimeContext aggregates handles to C1-C10, the node identity, the
// signer, the time provider and the governance parameter map (C11).
// It is the host ABI surface the job engine, economic engine and
// executor manager are driven through; no component here holds a
// strong handle to another's logical parent, only to the small
// capability interfaces each needs.
type RuntimeContext struct {
	Self     DID
	Signer   Signer
	Resolver DIDResolver
	Store    BlockStore
	Mana     *ManaLedger
	Tokens   *TokenLedger
	Reputation *ReputationStore
	Events   *EventLog
	Params   *ParameterMap
	Jobs     *JobEngine
	Executor *ExecutorManager
	Economic *EconomicEngine
	Governance *GovernanceModule
	Penalties  *PenaltyEngine
	Allocator  *ResourceAllocator
	Health     *HealthMonitor
	Wasm       *SandboxedWasmExecutor

	mode  ProductionMode
	clock func() time.Time
}

// RuntimeContextConfig bundles the collaborators NewRuntimeContext
// wires together. Callers construct each collaborator independently
// (NewMemoryStore, NewManaLedger, NewJobEngine, ...) and hand the
// resulting handles here; RuntimeContext never constructs its own
// dependencies, keeping every capability swappable and testable in
// isolation.
type RuntimeContextConfig struct {
	Mode     ProductionMode
	Self     DID
	Signer   Signer
	Resolver DIDResolver
	Store    BlockStore
	Announcer Announcer
	SystemProbe SystemProbe
	Clock    func() time.Time
}

// testMessage is signed at construction to validate the identity/signer
// invariant: the signature must verify against the signer's public key,
// and a resolver that knows the node's DID must hold that same key.
const testMessage = "icn-runtime-identity-check"

// NewRuntimeContext wires C1-C10 into a host-facing runtime context.
// It validates the identity/signer invariant: Self must equal the
// signer's DID, a fixed message signed by the signer must verify
// against the signer's public key, and when the resolver knows Self
// its key must match the signer's. A mismatch is fatal, since every
// subsequent signature from this node would otherwise be unverifiable
// by peers. In ModeProduction it further rejects a non-durable store
// and any announcer other than a *NetworkAnnouncer; the signer is not
// checked for production use.
func NewRuntimeContext(cfg RuntimeContextConfig) (*RuntimeContext, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("%w: signer is required", ErrInvalidParameters)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidParameters)
	}
	if cfg.Self == "" {
		cfg.Self = cfg.Signer.DID()
	}
	if cfg.Self != cfg.Signer.DID() {
		return nil, fmt.Errorf("%w: runtime identity %s does not match signer DID %s", ErrInternal, cfg.Self, cfg.Signer.DID())
	}

	sig, err := cfg.Signer.Sign([]byte(testMessage))
	if err != nil {
		return nil, fmt.Errorf("%w: identity check: sign failed: %v", ErrInternal, err)
	}
	if !Verify(cfg.Signer.Algo(), cfg.Signer.PublicKey(), []byte(testMessage), sig) {
		return nil, fmt.Errorf("%w: identity check: signature does not verify against the signer's own public key", ErrInternal)
	}
	if cfg.Resolver != nil {
		pub, algo, err := cfg.Resolver.Resolve(cfg.Self)
		if err == nil {
			if algo != cfg.Signer.Algo() || !bytes.Equal(pub, cfg.Signer.PublicKey()) {
				return nil, fmt.Errorf("%w: identity check: resolver's key for %s does not match the signer's public key", ErrInternal, cfg.Self)
			}
		}
	}

	if cfg.Mode == ModeProduction {
		if dr, ok := cfg.Store.(durabilityReporter); ok && !dr.IsDurable() {
			return nil, fmt.Errorf("%w: production mode requires a durable block store, got an in-memory one", ErrInvalidParameters)
		}
		if cfg.Announcer == nil {
			return nil, fmt.Errorf("%w: production mode requires a network announcer", ErrInvalidParameters)
		}
		if _, ok := cfg.Announcer.(*NetworkAnnouncer); !ok {
			return nil, fmt.Errorf("%w: production mode requires a real network announcer, got %T", ErrInvalidParameters, cfg.Announcer)
		}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	events := NewEventLog(cfg.Store, cfg.Signer)
	mana := NewManaLedger(events)
	tokens := NewTokenLedger(events)
	reputation := NewReputationStore()
	params := NewParameterMap()
	allocator := NewResourceAllocator()
	health := NewHealthMonitor(60)
	penalties := NewPenaltyEngine(mana, tokens, reputation, events)
	governance := NewGovernanceModule(cfg.Store, params)

	jobs := NewJobEngine(cfg.Store, mana, reputation, cfg.Resolver, cfg.Announcer)
	jobs.SetClock(clock)

	executor := NewExecutorManager(cfg.Self, cfg.Signer, mana, reputation, cfg.SystemProbe, cfg.Store, cfg.Announcer,
		[]JobKind{KindEcho, KindWasm})

	wasm := NewSandboxedWasmExecutor(storeModuleLoader{cfg.Store}, cfg.Store, cfg.Self)
	executor.SetWasmExecutor(wasm)

	economic := NewEconomicEngine(mana, tokens, reputation, allocator, penalties, health, events, params)

	rc := &RuntimeContext{
		Self:       cfg.Self,
		Signer:     cfg.Signer,
		Resolver:   cfg.Resolver,
		Store:      cfg.Store,
		Mana:       mana,
		Tokens:     tokens,
		Reputation: reputation,
		Events:     events,
		Params:     params,
		Jobs:       jobs,
		Executor:   executor,
		Economic:   economic,
		Governance: governance,
		Penalties:  penalties,
		Allocator:  allocator,
		Health:     health,
		Wasm:       wasm,
		mode:       cfg.Mode,
		clock:      clock,
	}
	return rc, nil
}

// Start launches the economic automation engine's background tasks.
// The job lifecycle engine needs no equivalent call: each job spawns
// its own lifecycle task from SubmitJob.
func (rc *RuntimeContext) Start() {
	rc.Economic.Start()
}

// Stop cancels the economic automation engine's background tasks.
func (rc *RuntimeContext) Stop() {
	rc.Economic.Stop()
}

// --- Host ABI ---

// SubmitJob implements the host ABI's submit_job operation.
func (rc *RuntimeContext) SubmitJob(manifestCID CID, specBytes []byte, costMana uint64, kind JobKind, req ResourceSpec) (CID, error) {
	return rc.Jobs.SubmitJob(rc.Self, manifestCID, specBytes, costMana, kind, req)
}

// AnchorReceipt implements the host ABI's anchor_receipt operation.
func (rc *RuntimeContext) AnchorReceipt(receipt Receipt) (CID, error) {
	return rc.Jobs.AnchorReceipt(receipt)
}

// GetJobStatus implements the host ABI's get_job_status operation.
func (rc *RuntimeContext) GetJobStatus(jobID CID) (Lifecycle, error) {
	return rc.Jobs.GetJob(jobID)
}

// SpendMana implements the host ABI's spend_mana operation.
func (rc *RuntimeContext) SpendMana(did DID, amount uint64) error {
	_, err := rc.Mana.Spend(did, amount)
	return err
}

// CreditMana implements the host ABI's credit_mana operation.
func (rc *RuntimeContext) CreditMana(did DID, amount uint64) error {
	return rc.Mana.Credit(did, amount)
}

// CreateGovernanceProposal implements the host ABI's
// create_governance_proposal operation.
func (rc *RuntimeContext) CreateGovernanceProposal(changes map[string]string) (string, error) {
	return rc.Governance.CreateProposal(rc.Self, changes)
}

// CastGovernanceVote implements the host ABI's cast_governance_vote
// operation.
func (rc *RuntimeContext) CastGovernanceVote(proposalID string, approve bool) error {
	return rc.Governance.CastVote(Vote{ProposalID: proposalID, Voter: rc.Self, Approve: approve})
}

// ResourceEventAction tags record_resource_event's action kind.
type ResourceEventAction string

const (
	ResourceAcquire ResourceEventAction = "Acquire"
	ResourceConsume ResourceEventAction = "Consume"
)

// RecordResourceEvent implements the host ABI's record_resource_event
// operation: it charges mana for the event and anchors a named event
// so the consumption is part of the replayable history.
func (rc *RuntimeContext) RecordResourceEvent(resourceID string, action ResourceEventAction, scope string, manaCost uint64) error {
	if manaCost > 0 {
		// A non-empty scope marks a cross-cooperative event, which
		// carries the cross-coop fee on top of the base cost.
		crossCoop := scope != ""
		if _, err := rc.Mana.ValidateSpend(rc.Self, manaCost, crossCoop); err != nil {
			return fmt.Errorf("record_resource_event: %w", err)
		}
		total := manaCost
		if crossCoop {
			total += CrossCoopFee(manaCost)
		}
		if _, err := rc.Mana.Spend(rc.Self, total); err != nil {
			return fmt.Errorf("record_resource_event: %w", err)
		}
	}
	if rc.Events != nil {
		_, _ = rc.Events.EmitNamed("ResourceEvent", struct {
			ResourceID string              `json:"resource_id"`
			Action     ResourceEventAction `json:"action"`
			Scope      string              `json:"scope,omitempty"`
			ManaCost   uint64              `json:"mana_cost"`
		}{resourceID, action, scope, manaCost})
	}
	return nil
}
