package core

import "time"

// DID is an opaque decentralized identifier: a method plus a
// public-key-derived suffix, e.g. "did:icn:alice".
type DID string

// CID is a Merkle content identifier over a DAG block. It is derived
// deterministically from a block's codec, payload, links, timestamp,
// author, signature and scope; see ComputeCID.
type CID [32]byte

// String renders the CID as lowercase hex.
func (c CID) String() string {
	const hex = "0123456789abcdef"
	out := make([]byte, 64)
	for i, b := range c {
		out[i*2] = hex[b>>4]
		out[i*2+1] = hex[b&0x0f]
	}
	return string(out)
}

// IsZero reports whether the CID is the zero value.
func (c CID) IsZero() bool { return c == CID{} }

// Codec identifies the payload encoding of a DAG block.
type Codec string

const (
	CodecJob        Codec = "job"
	CodecBid        Codec = "bid"
	CodecAssignment Codec = "assignment"
	CodecReceipt    Codec = "receipt"
	CodecCheckpoint Codec = "checkpoint"
	CodecEvent      Codec = "event"
	CodecOutput     Codec = "output"
	CodecParamChange Codec = "param_change"
	CodecProposal   Codec = "proposal"
	CodecVote       Codec = "vote"
)

// Link references a parent block by CID, carrying an informational
// name and size used when reconstructing lifecycles.
type Link struct {
	CID  CID    `json:"cid"`
	Name string `json:"name"`
	Size int    `json:"size"`
}

// Block is an immutable, content-addressed DAG record. Its CID is the
// Merkle digest of every other field; blocks are never mutated after
// put.
type Block struct {
	CID       CID       `json:"cid"`
	Codec     Codec     `json:"codec"`
	Data      []byte    `json:"data"`
	Links     []Link    `json:"links"`
	Timestamp time.Time `json:"timestamp"`
	Author    DID       `json:"author"`
	Signature []byte    `json:"signature,omitempty"`
	Scope     string    `json:"scope,omitempty"`
}

// JobKind selects the executor dispatch path.
type JobKind string

const (
	KindEcho    JobKind = "Echo"
	KindWasm    JobKind = "Wasm"
	KindGeneric JobKind = "Generic"
)

// JobStatus is the tagged state of a job lifecycle.
type JobStatus string

const (
	StatusSubmitted     JobStatus = "Submitted"
	StatusBiddingOpen    JobStatus = "BiddingOpen"
	StatusBiddingClosed  JobStatus = "BiddingClosed"
	StatusAssigned       JobStatus = "Assigned"
	StatusExecuting      JobStatus = "Executing"
	StatusCompleted      JobStatus = "Completed"
	StatusFailed         JobStatus = "Failed"
	StatusCancelled      JobStatus = "Cancelled"
)

// FailureReason tags why a job reached Failed.
type FailureReason string

const (
	ReasonNoBids             FailureReason = "NoBids"
	ReasonNoSuitableExecutor FailureReason = "NoSuitableExecutor"
	ReasonTimeout            FailureReason = "Timeout"
	ReasonReceiptError       FailureReason = "ReceiptError"
	ReasonInternal           FailureReason = "Internal"
	ReasonExecutionFailed    FailureReason = "ExecutionFailed"
)

// ResourceSpec describes resource quantities requested or offered.
type ResourceSpec struct {
	CPU     float64 `json:"cpu"`
	MemMB   float64 `json:"mem_mb"`
	Storage float64 `json:"storage"`
}

// Job is the lifecycle root entity, stored as a DAG block whose CID
// becomes the authoritative job_id once persisted.
type Job struct {
	ID                   CID           `json:"id"`
	ManifestCID          CID           `json:"manifest_cid"`
	SpecBytes            []byte        `json:"spec_bytes"`
	Submitter            DID           `json:"submitter"`
	CostMana             uint64        `json:"cost_mana"`
	SubmittedAt          time.Time     `json:"submitted_at"`
	Status               JobStatus     `json:"status"`
	RequiredResources    ResourceSpec  `json:"required_resources"`
	Kind                 JobKind       `json:"kind"`
	RequiredCapabilities []string      `json:"required_capabilities,omitempty"`
	MinReputation        *int64        `json:"min_reputation,omitempty"`
	AllowedFederations   []string      `json:"allowed_federations,omitempty"`
	TrustScope           string        `json:"trust_scope,omitempty"`
	BidDeadline          time.Time     `json:"bid_deadline"`
	MaxExecSecs          uint64        `json:"max_exec_secs"`
	MaxCostMana          uint64        `json:"max_cost_mana"`
}

// Bid is an executor's offer against a Job, persisted as a child
// block linking its parent Job.
type Bid struct {
	JobID       CID          `json:"job_id"`
	BidID       string       `json:"bid_id"`
	Executor    DID          `json:"executor"`
	PriceMana   uint64       `json:"price_mana"`
	Resources   ResourceSpec `json:"resources"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Federations  []string    `json:"federations,omitempty"`
	TrustScope   string      `json:"trust_scope,omitempty"`
	SubmittedAt  time.Time   `json:"submitted_at"`
	Signature    []byte      `json:"signature"`
}

// Assignment records the selected bid for a Job.
type Assignment struct {
	JobID              CID          `json:"job_id"`
	WinningBidID       string       `json:"winning_bid_id"`
	Executor           DID          `json:"executor"`
	AssignedAt         time.Time    `json:"assigned_at"`
	FinalPrice         uint64       `json:"final_price"`
	CommittedResources ResourceSpec `json:"committed_resources"`
}

// Receipt is the executor-signed outcome of executing an assigned Job.
type Receipt struct {
	JobID       CID       `json:"job_id"`
	Executor    DID       `json:"executor"`
	Success     bool      `json:"success"`
	CPUMillis   uint64    `json:"cpu_ms"`
	ResultCID   CID       `json:"result_cid"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Signature   []byte    `json:"signature"`
}

// Checkpoint is an optional signed progress marker for long-running
// jobs, ordered by timestamp.
type Checkpoint struct {
	JobID     CID       `json:"job_id"`
	Sequence  uint64    `json:"sequence"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature"`
}

// Lifecycle is the reconstructed view of a Job and its children,
// assembled by a one-pass scan of blocks whose links reference the
// job CID.
type Lifecycle struct {
	Job         Job
	Bids        []Bid
	Assignment  *Assignment
	Receipt     *Receipt
	Checkpoints []Checkpoint
	Status      JobStatus
	Reason      FailureReason
}

// ManaAccount is a per-identity regenerating credit balance.
type ManaAccount struct {
	DID               DID       `json:"did"`
	Balance           uint64    `json:"balance"`
	Capacity          uint64    `json:"capacity"`
	RegenerationRate  float64   `json:"regeneration_rate"`
	LastRegeneration  time.Time `json:"last_regeneration"`
	ReputationBonus   float64   `json:"reputation_bonus"`
	UsageHistory      []int64   `json:"usage_history,omitempty"`
}

// TransferabilityRule gates whether a token class may move between
// identities.
type TransferabilityRule string

const (
	TransferAlways   TransferabilityRule = "always"
	TransferNever    TransferabilityRule = "never"
	TransferScoped   TransferabilityRule = "scoped"
)

// ScopingRules bounds a token class's supply and validity window.
type ScopingRules struct {
	ValidFrom time.Time `json:"valid_from,omitempty"`
	ValidTo   time.Time `json:"valid_to,omitempty"`
	MaxSupply *uint64   `json:"max_supply,omitempty"`
}

// TokenClass is a multi-class fungible asset definition.
type TokenClass struct {
	ClassID         string              `json:"class_id"`
	Transferability TransferabilityRule `json:"transferability_rules"`
	Scoping         ScopingRules        `json:"scoping_rules"`
	IssuersByScope  map[string][]DID    `json:"issuer_set_per_scope"`
	TotalSupply     uint64              `json:"total_supply"`
}

// LedgerEventKind tags the mutation an event recorded.
type LedgerEventKind string

const (
	EventCredit      LedgerEventKind = "Credit"
	EventDebit       LedgerEventKind = "Debit"
	EventSetBalance  LedgerEventKind = "SetBalance"
	EventMint        LedgerEventKind = "Mint"
	EventBurn        LedgerEventKind = "Burn"
	EventTransfer    LedgerEventKind = "Transfer"
)

// LedgerEvent is an append-only, signed account mutation anchored to
// the DAG store so authoritative balances can be replayed.
type LedgerEvent struct {
	Kind      LedgerEventKind `json:"kind"`
	DID       DID             `json:"did,omitempty"`
	From      DID             `json:"from,omitempty"`
	To        DID             `json:"to,omitempty"`
	Class     string          `json:"class,omitempty"`
	Amount    uint64          `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

// PolicyType tags an EconomicPolicy's behavior.
type PolicyType string

const (
	PolicyManaRegeneration PolicyType = "ManaRegeneration"
	PolicyResourceAlloc    PolicyType = "ResourceAllocation"
	PolicyPricing          PolicyType = "Pricing"
	PolicyMarketBehavior   PolicyType = "MarketBehavior"
	PolicyAntiManipulation PolicyType = "AntiManipulation"
)

// PolicyStatus is the lifecycle state of an EconomicPolicy.
type PolicyStatus string

const (
	PolicyActive     PolicyStatus = "Active"
	PolicySuspended  PolicyStatus = "Suspended"
	PolicyUpdating   PolicyStatus = "Updating"
	PolicyDeprecated PolicyStatus = "Deprecated"
)

// EconomicPolicy parameterizes one facet of the automation engine.
type EconomicPolicy struct {
	ID               string             `json:"id"`
	Type             PolicyType         `json:"type"`
	Parameters       map[string]float64 `json:"parameters"`
	EnforcementLevel float64            `json:"enforcement_level"`
	Status           PolicyStatus       `json:"status"`
}

// PricingModel tracks a resource class's price evolution.
type PricingModel struct {
	ResourceClass      string    `json:"resource_class"`
	BasePrice          float64   `json:"base_price"`
	CurrentPrice       float64   `json:"current_price"`
	PriceHistory       []float64 `json:"price_history"`
	SupplyDemandRatio  float64   `json:"supply_demand_ratio"`
	QualityFactor      float64   `json:"quality_factor"`
	CompetitionFactor  float64   `json:"competition_factor"`
	LastUpdated        time.Time `json:"last_updated"`
}

// SelectionPolicy weights score_bid's terms.
type SelectionPolicy struct {
	WeightPrice      float64
	WeightReputation float64
	WeightResources  float64
	WeightLatency    float64
}

// DefaultSelectionPolicy mirrors the weights used across the test
// scenarios: price and reputation dominate, resources and latency
// provide tie-breaking signal.
func DefaultSelectionPolicy() SelectionPolicy {
	return SelectionPolicy{
		WeightPrice:      1.0,
		WeightReputation: 1.0,
		WeightResources:  1.0,
		WeightLatency:    1.0,
	}
}
