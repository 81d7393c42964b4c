package core

import (
	"fmt"
	"sync"
	"time"
)

// ParameterMap is the governance-parameter surface read freely by
// engines and written only through governance execution, per the
// runtime's concurrent-map convention.
type ParameterMap struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewParameterMap seeds a map with the recognized defaults.
func NewParameterMap() *ParameterMap {
	return &ParameterMap{values: map[string]string{
		"mana_max_capacity": "10000",
		"open_rate_limit":   "100",
	}}
}

// Get returns a parameter's current string value and whether it was set.
func (p *ParameterMap) Get(name string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[name]
	return v, ok
}

func (p *ParameterMap) setLocked(name, value string) {
	p.mu.Lock()
	p.values[name] = value
	p.mu.Unlock()
}

// Proposal is a governance change request anchored to the DAG.
type Proposal struct {
	ID        string            `json:"id"`
	Proposer  DID               `json:"proposer"`
	Changes   map[string]string `json:"changes"`
	CreatedAt time.Time         `json:"created_at"`
}

// Vote records one identity's position on a proposal.
type Vote struct {
	ProposalID string `json:"proposal_id"`
	Voter      DID    `json:"voter"`
	Approve    bool   `json:"approve"`
}

// ParameterChange is the anchored record of an executed governance
// decision, giving replay a full configuration timeline.
type ParameterChange struct {
	ProposalID string            `json:"proposal_id"`
	Changes    map[string]string `json:"changes"`
	AppliedAt  time.Time         `json:"applied_at"`
}

// GovernanceModule coordinates proposals, votes and parameter
// application, feeding the economic automation engine via the shared
// ParameterMap (C10).
type GovernanceModule struct {
	store  BlockStore
	params *ParameterMap

	mu        sync.Mutex
	proposals map[string]Proposal
	votes     map[string][]Vote
}

// NewGovernanceModule wires governance to the store and parameter map.
func NewGovernanceModule(store BlockStore, params *ParameterMap) *GovernanceModule {
	return &GovernanceModule{
		store:     store,
		params:    params,
		proposals: make(map[string]Proposal),
		votes:     make(map[string][]Vote),
	}
}

// CreateProposal anchors a new proposal and returns its id (its CID,
// rendered as a string, by convention).
func (g *GovernanceModule) CreateProposal(proposer DID, changes map[string]string) (string, error) {
	now := time.Now()
	p := Proposal{Proposer: proposer, Changes: changes, CreatedAt: now}
	data, err := encodeJSON(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInternal, err)
	}
	cid := ComputeCID(CodecProposal, data, nil, now.UnixNano(), proposer, nil, "")
	p.ID = cid.String()
	blk := Block{CID: cid, Codec: CodecProposal, Data: data, Timestamp: now, Author: proposer}
	if _, err := g.store.Put(blk); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	g.mu.Lock()
	g.proposals[p.ID] = p
	g.mu.Unlock()
	return p.ID, nil
}

// CastVote anchors a vote against an existing proposal.
func (g *GovernanceModule) CastVote(v Vote) error {
	g.mu.Lock()
	_, ok := g.proposals[v.ProposalID]
	g.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	cid := ComputeCID(CodecVote, data, nil, now.UnixNano(), v.Voter, nil, "")
	blk := Block{CID: cid, Codec: CodecVote, Data: data, Timestamp: now, Author: v.Voter}
	if _, err := g.store.Put(blk); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	g.mu.Lock()
	g.votes[v.ProposalID] = append(g.votes[v.ProposalID], v)
	g.mu.Unlock()
	return nil
}

// Tally returns the approve/reject vote counts for a proposal. Vote
// counting policy (quorum, weighting) is an external collaborator
// concern; this reports raw counts only.
func (g *GovernanceModule) Tally(proposalID string) (approve, reject int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.votes[proposalID] {
		if v.Approve {
			approve++
		} else {
			reject++
		}
	}
	return approve, reject
}

// ApplyProposal writes a proposal's parameter changes into the shared
// ParameterMap and anchors the applied ParameterChange as a DAG
// block so replay reconstructs the configuration timeline. Any
// runtime effects of the change (e.g. re-reading by the economic
// engine) run on their own task rather than re-entering governance
// while its lock is held.
func (g *GovernanceModule) ApplyProposal(proposalID string) error {
	g.mu.Lock()
	p, ok := g.proposals[proposalID]
	g.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	for k, v := range p.Changes {
		g.params.setLocked(k, v)
	}
	now := time.Now()
	pc := ParameterChange{ProposalID: proposalID, Changes: p.Changes, AppliedAt: now}
	data, err := encodeJSON(pc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	cid := ComputeCID(CodecParamChange, data, nil, now.UnixNano(), p.Proposer, nil, "")
	blk := Block{CID: cid, Codec: CodecParamChange, Data: data, Timestamp: now, Author: p.Proposer}
	_, err = g.store.Put(blk)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return nil
}
