package core

import (
	"fmt"
	"sync"
	"time"
)

// TreasuryDID receives confiscated tokens.
const TreasuryDID DID = "did:icn:treasury"

// PenaltyKind tags an economic enforcement action.
type PenaltyKind string

const (
	PenaltyMana              PenaltyKind = "ManaPenalty"
	PenaltyTokenConfiscation PenaltyKind = "TokenConfiscation"
	PenaltyResourceRestriction PenaltyKind = "ResourceRestriction"
	PenaltyReputation        PenaltyKind = "ReputationPenalty"
	PenaltyMarketBan         PenaltyKind = "MarketBan"
	PenaltyWarning           PenaltyKind = "Warning"
)

// RestrictionSeverity scales a ResourceRestriction's blast radius.
type RestrictionSeverity int

const (
	SeverityLow RestrictionSeverity = iota
	SeverityMedium
	SeverityHigh
)

// Restriction records a resource ban on a violator.
type Restriction struct {
	Violator DID
	Resource string
	Severity RestrictionSeverity
	EndTime  *time.Time
}

// PenaltyEngine applies the economic penalty catalog.
type PenaltyEngine struct {
	mana        *ManaLedger
	tokens      *TokenLedger
	reputation  *ReputationStore
	events      *EventLog

	mu           sync.Mutex
	restrictions map[DID][]Restriction
	marketBanned map[DID]bool
}

// NewPenaltyEngine wires the penalty engine to its ledgers.
func NewPenaltyEngine(mana *ManaLedger, tokens *TokenLedger, reputation *ReputationStore, events *EventLog) *PenaltyEngine {
	return &PenaltyEngine{
		mana:         mana,
		tokens:       tokens,
		reputation:   reputation,
		events:       events,
		restrictions: make(map[DID][]Restriction),
		marketBanned: make(map[DID]bool),
	}
}

// ApplyMana spends amount from violator as a punitive debit.
func (p *PenaltyEngine) ApplyMana(violator DID, amount uint64) error {
	if _, err := p.mana.Spend(violator, amount); err != nil {
		return fmt.Errorf("penalty: mana: %w", err)
	}
	return p.emit("ManaPenalty", violator, amount)
}

// ApplyTokenConfiscation transfers up to amount of each registered
// class from violator to the treasury. The move goes through
// ForceTransferToTreasury, which bypasses the transferability rule, so
// non-transferable classes are confiscated too.
func (p *PenaltyEngine) ApplyTokenConfiscation(violator DID, amount uint64) error {
	if violator == TreasuryDID {
		return fmt.Errorf("%w: treasury cannot be its own violator", ErrPolicyDenied)
	}
	var total uint64
	for _, c := range p.tokens.ListClasses() {
		bal := p.tokens.GetBalance(c.ClassID, violator)
		if bal == 0 {
			continue
		}
		take := amount
		if take > bal {
			take = bal
		}
		if take == 0 {
			continue
		}
		p.tokens.ForceTransferToTreasury(c.ClassID, violator, take)
		total += take
	}
	return p.emit("TokenConfiscation", violator, total)
}

// ApplyResourceRestriction records a resource restriction keyed by
// severity. A zero duration means no expiry.
func (p *PenaltyEngine) ApplyResourceRestriction(violator DID, severity RestrictionSeverity, duration time.Duration) {
	resource := "compute"
	switch severity {
	case SeverityMedium:
		resource = "storage"
	case SeverityHigh:
		resource = "network"
	}
	var end *time.Time
	if duration > 0 {
		t := time.Now().Add(duration)
		end = &t
	}
	p.mu.Lock()
	p.restrictions[violator] = append(p.restrictions[violator], Restriction{
		Violator: violator, Resource: resource, Severity: severity, EndTime: end,
	})
	p.mu.Unlock()
	_ = p.emit("ResourceRestriction", violator, uint64(severity))
}

// ApplyReputationPenalty records N failed executions where N =
// max(1, amount/10); RecordFailures applies the floor of 1. N is
// derived from amount only; there is no severity-based form.
func (p *PenaltyEngine) ApplyReputationPenalty(violator DID, amount uint64) {
	n := int64(amount / 10)
	p.reputation.RecordFailures(violator, n)
	_ = p.emit("ReputationPenalty", violator, amount)
}

// ApplyMarketBan records a market-ban flag for violator, readable
// through IsMarketBanned. Market making does not read the flag.
func (p *PenaltyEngine) ApplyMarketBan(violator DID) {
	p.mu.Lock()
	p.marketBanned[violator] = true
	p.mu.Unlock()
	_ = p.emit("MarketBan", violator, 0)
}

// IsMarketBanned reports whether violator carries an active market ban flag.
func (p *PenaltyEngine) IsMarketBanned(violator DID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.marketBanned[violator]
}

// ApplyWarning logs a non-mutating warning.
func (p *PenaltyEngine) ApplyWarning(violator DID, reason string) {
	_ = p.emit("Warning:"+reason, violator, 0)
}

// SweepExpired drops restrictions whose end time has passed as of now,
// returning the number removed. The health-monitoring tick runs it so
// expiry needs no timer of its own; restrictions without an end time
// persist until explicitly lifted.
func (p *PenaltyEngine) SweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for did, list := range p.restrictions {
		kept := list[:0]
		for _, r := range list {
			if r.EndTime != nil && !r.EndTime.After(now) {
				removed++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(p.restrictions, did)
		} else {
			p.restrictions[did] = kept
		}
	}
	return removed
}

// Restrictions returns a snapshot of restrictions recorded for did.
func (p *PenaltyEngine) Restrictions(did DID) []Restriction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]Restriction(nil), p.restrictions[did]...)
	return out
}

func (p *PenaltyEngine) emit(kind string, violator DID, amount uint64) error {
	if p.events == nil {
		return nil
	}
	_, err := p.events.EmitNamed(kind, struct {
		Violator DID    `json:"violator"`
		Amount   uint64 `json:"amount"`
	}{violator, amount})
	return err
}
