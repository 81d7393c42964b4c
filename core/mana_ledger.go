package core

import (
	"fmt"
	"sync"
	"time"
)

// MaxSpendLimit bounds any single spend regardless of balance.
const MaxSpendLimit = 1000

// LowBalanceWarningThreshold flags a spend that would leave the
// account below this remaining balance.
const LowBalanceWarningThreshold = 100

// EventSink anchors ledger mutations to the content-addressed store
// as signed DAG blocks, decoupling the ledger from its logical parent
// per the runtime's capability-indirection convention.
type EventSink interface {
	EmitLedgerEvent(e LedgerEvent) (CID, error)
}

// ManaLedger is the per-identity regenerating credit ledger (C2).
// All mutations, on any account, are serialized by one ledger-wide
// mutex.
type ManaLedger struct {
	mu       sync.Mutex
	accounts map[DID]*ManaAccount
	sink     EventSink
	now      func() time.Time
}

// NewManaLedger constructs an empty ledger anchoring events to sink.
func NewManaLedger(sink EventSink) *ManaLedger {
	return &ManaLedger{
		accounts: make(map[DID]*ManaAccount),
		sink:     sink,
		now:      time.Now,
	}
}

// SetClock overrides the time source, used by deterministic tests.
func (l *ManaLedger) SetClock(now func() time.Time) { l.now = now }

func (l *ManaLedger) account(did DID) *ManaAccount {
	a, ok := l.accounts[did]
	if !ok {
		a = &ManaAccount{DID: did, Capacity: 10000}
		l.accounts[did] = a
	}
	return a
}

// GetBalance returns the account's current balance, creating the
// account with a zero balance if unseen.
func (l *ManaLedger) GetBalance(did DID) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account(did).Balance
}

// SetBalance forcibly overwrites an account's balance (governance or
// bootstrap use), emitting a SetBalance event.
func (l *ManaLedger) SetBalance(did DID, amount uint64) error {
	l.mu.Lock()
	a := l.account(did)
	a.Balance = amount
	l.mu.Unlock()
	return l.emit(LedgerEvent{Kind: EventSetBalance, DID: did, Amount: amount, Timestamp: l.now()})
}

// SpendResult reports non-fatal warnings alongside a successful spend.
type SpendResult struct {
	LowBalance bool
	LargeSpend bool
}

// CrossCoopFee is the surcharge on a spend that crosses a cooperative
// boundary: 10% of the amount, never less than 1.
func CrossCoopFee(amount uint64) uint64 {
	fee := amount / 10
	if fee < 1 {
		fee = 1
	}
	return fee
}

// ValidateSpend evaluates a prospective spend without mutating state.
// The amount must be positive and within MaxSpendLimit, and the balance
// must cover the amount plus the cross-cooperative fee when crossCoop
// is set. The returned warnings mirror Spend's.
func (l *ManaLedger) ValidateSpend(did DID, amount uint64, crossCoop bool) (SpendResult, error) {
	if amount == 0 || amount > MaxSpendLimit {
		return SpendResult{}, fmt.Errorf("%w: spend amount %d out of bounds", ErrPolicyDenied, amount)
	}
	total := amount
	if crossCoop {
		total += CrossCoopFee(amount)
	}
	l.mu.Lock()
	balance := l.account(did).Balance
	l.mu.Unlock()
	if balance < total {
		return SpendResult{}, fmt.Errorf("%w: balance %d < amount %d with fees", ErrInsufficientMana, balance, total)
	}
	return SpendResult{
		LargeSpend: amount > balance/2,
		LowBalance: balance-total < LowBalanceWarningThreshold,
	}, nil
}

// Spend debits amount from did's balance. It enforces the policy gate
// (amount in (0, MaxSpendLimit]) ahead of the balance check, and
// returns non-fatal warnings when the result leaves a low remaining
// balance or the spend itself was large relative to the prior
// balance.
func (l *ManaLedger) Spend(did DID, amount uint64) (SpendResult, error) {
	if amount == 0 || amount > MaxSpendLimit {
		return SpendResult{}, fmt.Errorf("%w: spend amount %d out of bounds", ErrPolicyDenied, amount)
	}
	l.mu.Lock()
	a := l.account(did)
	if a.Balance < amount {
		l.mu.Unlock()
		return SpendResult{}, fmt.Errorf("%w: balance %d < amount %d", ErrInsufficientMana, a.Balance, amount)
	}
	res := SpendResult{
		LargeSpend: amount > a.Balance/2,
	}
	a.Balance -= amount
	res.LowBalance = a.Balance < LowBalanceWarningThreshold
	a.UsageHistory = append(a.UsageHistory, -int64(amount))
	l.mu.Unlock()

	if err := l.emit(LedgerEvent{Kind: EventDebit, DID: did, Amount: amount, Timestamp: l.now()}); err != nil {
		return res, err
	}
	return res, nil
}

// Credit adds amount to did's balance, bounded by capacity. The event
// records the change actually applied, so Replay matches the live
// balance when the cap cuts a credit short.
func (l *ManaLedger) Credit(did DID, amount uint64) error {
	l.mu.Lock()
	a := l.account(did)
	before := a.Balance
	a.Balance += amount
	if a.Balance > a.Capacity {
		a.Balance = a.Capacity
	}
	ev := LedgerEvent{Kind: EventCredit, DID: did, Amount: a.Balance - before, Timestamp: l.now()}
	if a.Balance < before {
		ev = LedgerEvent{Kind: EventSetBalance, DID: did, Amount: a.Balance, Timestamp: ev.Timestamp}
	}
	a.UsageHistory = append(a.UsageHistory, int64(amount))
	l.mu.Unlock()
	return l.emit(ev)
}

// CreditAll credits every known account by amount.
func (l *ManaLedger) CreditAll(amount uint64) error {
	l.mu.Lock()
	dids := make([]DID, 0, len(l.accounts))
	for did := range l.accounts {
		dids = append(dids, did)
	}
	l.mu.Unlock()
	for _, did := range dids {
		if err := l.Credit(did, amount); err != nil {
			return err
		}
	}
	return nil
}

// AllAccounts returns a snapshot copy of every known account.
func (l *ManaLedger) AllAccounts() []ManaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ManaAccount, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	return out
}

// Account returns a snapshot copy of a single account, creating it if
// unseen.
func (l *ManaLedger) Account(did DID) ManaAccount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.account(did)
}

// ApplyRegeneration updates did's balance and bookkeeping fields
// according to the economic automation engine's periodic regen task.
func (l *ManaLedger) ApplyRegeneration(did DID, regen uint64, capacity uint64, at time.Time) error {
	l.mu.Lock()
	a := l.account(did)
	a.Capacity = capacity
	before := a.Balance
	a.Balance += regen
	if a.Balance > a.Capacity {
		a.Balance = a.Capacity
	}
	a.LastRegeneration = at
	ev := LedgerEvent{Kind: EventCredit, DID: did, Amount: a.Balance - before, Timestamp: at}
	if a.Balance < before {
		ev = LedgerEvent{Kind: EventSetBalance, DID: did, Amount: a.Balance, Timestamp: at}
	}
	l.mu.Unlock()
	return l.emit(ev)
}

func (l *ManaLedger) emit(e LedgerEvent) error {
	if l.sink == nil {
		return nil
	}
	_, err := l.sink.EmitLedgerEvent(e)
	return err
}

// Replay folds a ledger event log into the authoritative balance map,
// the round-trip property used to reconstruct a ledger from its
// anchored event history.
func Replay(events []LedgerEvent) map[DID]uint64 {
	balances := make(map[DID]uint64)
	for _, e := range events {
		switch e.Kind {
		case EventCredit:
			balances[e.DID] += e.Amount
		case EventDebit:
			balances[e.DID] -= e.Amount
		case EventSetBalance:
			balances[e.DID] = e.Amount
		}
	}
	return balances
}
