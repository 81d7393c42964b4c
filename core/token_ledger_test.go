package core

import (
	"errors"
	"testing"
)

func TestTokenLedgerMintBurnTransfer(t *testing.T) {
	l := NewTokenLedger(nil)
	issuer := DID("did:icn:issuer")
	alice := DID("did:icn:alice")
	bob := DID("did:icn:bob")

	class := TokenClass{
		ClassID:         "credit",
		Transferability: TransferAlways,
		IssuersByScope:  map[string][]DID{"": {issuer}},
	}
	if err := l.RegisterClass(class); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := l.RegisterClass(class); !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("re-register: got %v, want ErrPolicyDenied", err)
	}

	if err := l.Mint(issuer, "credit", "", alice, 100); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got := l.GetBalance("credit", alice); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}

	if err := l.Transfer("credit", alice, bob, 40); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := l.GetBalance("credit", alice); got != 60 {
		t.Fatalf("alice balance = %d, want 60", got)
	}
	if got := l.GetBalance("credit", bob); got != 40 {
		t.Fatalf("bob balance = %d, want 40", got)
	}

	if err := l.Burn(issuer, "credit", "", bob, 10); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if got := l.GetBalance("credit", bob); got != 30 {
		t.Fatalf("bob balance after burn = %d, want 30", got)
	}

	if err := l.Burn(issuer, "credit", "", bob, 1000); !errors.Is(err, ErrInsufficientToken) {
		t.Fatalf("over-burn: got %v, want ErrInsufficientToken", err)
	}
}

func TestTokenLedgerNonTransferableClass(t *testing.T) {
	l := NewTokenLedger(nil)
	issuer := DID("did:icn:issuer")
	alice := DID("did:icn:alice")
	bob := DID("did:icn:bob")

	if err := l.RegisterClass(TokenClass{
		ClassID:         "soulbound",
		Transferability: TransferNever,
		IssuersByScope:  map[string][]DID{"": {issuer}},
	}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := l.Mint(issuer, "soulbound", "", alice, 5); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if l.CanTransfer("soulbound", alice, bob, 1) {
		t.Fatalf("expected non-transferable class to reject transfer")
	}
	if err := l.Transfer("soulbound", alice, bob, 1); !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("Transfer: got %v, want ErrPolicyDenied", err)
	}
}

func TestTokenLedgerUnauthorizedIssuer(t *testing.T) {
	l := NewTokenLedger(nil)
	issuer := DID("did:icn:issuer")
	outsider := DID("did:icn:outsider")
	alice := DID("did:icn:alice")

	if err := l.RegisterClass(TokenClass{
		ClassID:        "credit",
		IssuersByScope: map[string][]DID{"": {issuer}},
	}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := l.Mint(outsider, "credit", "", alice, 1); !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("Mint by outsider: got %v, want ErrPolicyDenied", err)
	}
}

func TestForceTransferToTreasury(t *testing.T) {
	l := NewTokenLedger(nil)
	issuer := DID("did:icn:issuer")
	violator := DID("did:icn:violator")

	if err := l.RegisterClass(TokenClass{
		ClassID:        "credit",
		IssuersByScope: map[string][]DID{"": {issuer}},
	}); err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := l.Mint(issuer, "credit", "", violator, 50); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	l.ForceTransferToTreasury("credit", violator, 20)
	if got := l.GetBalance("credit", violator); got != 30 {
		t.Fatalf("violator balance = %d, want 30", got)
	}
	if got := l.GetBalance("credit", TreasuryDID); got != 20 {
		t.Fatalf("treasury balance = %d, want 20", got)
	}
}
