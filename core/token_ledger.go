package core

import (
	"fmt"
	"sync"
	"time"
)

// TokenLedger holds multi-class fungible balances with per-class
// transferability and scoping rules (C3). Each class's issuer set is
// keyed by scope so governance can restrict who may mint/burn under a
// given trust context.
type TokenLedger struct {
	mu       sync.Mutex
	classes  map[string]*TokenClass
	balances map[string]map[DID]uint64 // class -> did -> balance
	sink     EventSink
	now      func() time.Time
}

// NewTokenLedger constructs an empty token ledger.
func NewTokenLedger(sink EventSink) *TokenLedger {
	return &TokenLedger{
		classes:  make(map[string]*TokenClass),
		balances: make(map[string]map[DID]uint64),
		sink:     sink,
		now:      time.Now,
	}
}

// SetClock overrides the time source for deterministic tests.
func (l *TokenLedger) SetClock(now func() time.Time) { l.now = now }

// RegisterClass defines a new token class. Re-registering an existing
// class id is rejected.
func (l *TokenLedger) RegisterClass(c TokenClass) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.classes[c.ClassID]; ok {
		return fmt.Errorf("%w: class %s already registered", ErrPolicyDenied, c.ClassID)
	}
	cp := c
	l.classes[c.ClassID] = &cp
	l.balances[c.ClassID] = make(map[DID]uint64)
	return nil
}

// ListClasses returns every registered token class.
func (l *TokenLedger) ListClasses() []TokenClass {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TokenClass, 0, len(l.classes))
	for _, c := range l.classes {
		out = append(out, *c)
	}
	return out
}

// GetBalance returns did's balance in class.
func (l *TokenLedger) GetBalance(class string, did DID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[class][did]
}

func (l *TokenLedger) isIssuer(c *TokenClass, scope string, issuer DID) bool {
	for _, d := range c.IssuersByScope[scope] {
		if d == issuer {
			return true
		}
	}
	return false
}

// Mint credits amount of class to did. issuer must belong to the
// class's authorized issuer set for scope.
func (l *TokenLedger) Mint(issuer DID, class, scope string, did DID, amount uint64) error {
	l.mu.Lock()
	c, ok := l.classes[class]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: class %s", ErrNotFound, class)
	}
	if !l.isIssuer(c, scope, issuer) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is not an authorized issuer for scope %s", ErrPolicyDenied, issuer, scope)
	}
	if c.Scoping.MaxSupply != nil && c.TotalSupply+amount > *c.Scoping.MaxSupply {
		l.mu.Unlock()
		return fmt.Errorf("%w: mint would exceed max supply", ErrPolicyDenied)
	}
	l.balances[class][did] += amount
	c.TotalSupply += amount
	l.mu.Unlock()
	return l.emit(LedgerEvent{Kind: EventMint, DID: did, Class: class, Amount: amount, Timestamp: l.now()})
}

// Burn debits amount of class from did. issuer must belong to the
// class's authorized issuer set for scope.
func (l *TokenLedger) Burn(issuer DID, class, scope string, did DID, amount uint64) error {
	l.mu.Lock()
	c, ok := l.classes[class]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: class %s", ErrNotFound, class)
	}
	if !l.isIssuer(c, scope, issuer) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is not an authorized issuer for scope %s", ErrPolicyDenied, issuer, scope)
	}
	if l.balances[class][did] < amount {
		l.mu.Unlock()
		return fmt.Errorf("%w: burn exceeds balance", ErrInsufficientToken)
	}
	l.balances[class][did] -= amount
	c.TotalSupply -= amount
	l.mu.Unlock()
	return l.emit(LedgerEvent{Kind: EventBurn, DID: did, Class: class, Amount: amount, Timestamp: l.now()})
}

// CanTransfer reports whether a transfer would be admitted by
// transferability and validity-window rules, without mutating state.
func (l *TokenLedger) CanTransfer(class string, from, to DID, amount uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canTransferLocked(class, from, to, amount) == nil
}

func (l *TokenLedger) canTransferLocked(class string, from, to DID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrPolicyDenied)
	}
	if from == to {
		return fmt.Errorf("%w: from equals to", ErrPolicyDenied)
	}
	c, ok := l.classes[class]
	if !ok {
		return fmt.Errorf("%w: class %s", ErrNotFound, class)
	}
	if c.Transferability == TransferNever {
		return fmt.Errorf("%w: class %s is non-transferable", ErrPolicyDenied, class)
	}
	now := l.now()
	if !c.Scoping.ValidFrom.IsZero() && now.Before(c.Scoping.ValidFrom) {
		return fmt.Errorf("%w: class %s not yet valid", ErrPolicyDenied, class)
	}
	if !c.Scoping.ValidTo.IsZero() && now.After(c.Scoping.ValidTo) {
		return fmt.Errorf("%w: class %s validity window elapsed", ErrPolicyDenied, class)
	}
	if l.balances[class][from] < amount {
		return fmt.Errorf("%w: balance %d < amount %d", ErrInsufficientToken, l.balances[class][from], amount)
	}
	return nil
}

// Transfer moves amount of class from from to to.
func (l *TokenLedger) Transfer(class string, from, to DID, amount uint64) error {
	l.mu.Lock()
	if err := l.canTransferLocked(class, from, to, amount); err != nil {
		l.mu.Unlock()
		return err
	}
	l.balances[class][from] -= amount
	l.balances[class][to] += amount
	l.mu.Unlock()
	return l.emit(LedgerEvent{Kind: EventTransfer, From: from, To: to, Class: class, Amount: amount, Timestamp: l.now()})
}

// ForceTransferToTreasury moves amount of class from from to the
// treasury DID, bypassing the transferability predicate. It is a
// privileged path used only by penalty enforcement and never exposed
// to the host ABI.
func (l *TokenLedger) ForceTransferToTreasury(class string, from DID, amount uint64) {
	l.mu.Lock()
	bal := l.balances[class][from]
	if amount > bal {
		amount = bal
	}
	l.balances[class][from] -= amount
	l.balances[class][TreasuryDID] += amount
	l.mu.Unlock()
	_ = l.emit(LedgerEvent{Kind: EventTransfer, From: from, To: TreasuryDID, Class: class, Amount: amount, Timestamp: l.now()})
}

func (l *TokenLedger) emit(e LedgerEvent) error {
	if l.sink == nil {
		return nil
	}
	_, err := l.sink.EmitLedgerEvent(e)
	return err
}
