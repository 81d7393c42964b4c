package core

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	bls "github.com/herumi/bls-eth-go-binary/bls"
	dilithium "github.com/cloudflare/circl/sign/dilithium/mode3"
	"github.com/mr-tron/base58"
)

func init() {
	if err := bls.Init(bls.BLS12_381); err == nil {
		_ = bls.SetETHmode(bls.EthModeDraft07)
	}
}

// KeyAlgo selects the signature scheme backing a Signer or DID entry.
type KeyAlgo int

const (
	AlgoEd25519 KeyAlgo = iota
	AlgoBLS
	AlgoDilithium
)

// Signer produces signatures over arbitrary messages on behalf of a
// node or executor identity (C5).
type Signer interface {
	DID() DID
	Algo() KeyAlgo
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// Ed25519Signer is the default signer: fast, small signatures,
// sufficient for per-job bids and receipts.
type Ed25519Signer struct {
	did  DID
	priv ed25519.PrivateKey
}

// NewEd25519Signer builds a signer from a DID and its private key.
func NewEd25519Signer(did DID, priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{did: did, priv: priv}
}

// GenerateEd25519Signer creates a fresh keypair and its DID-bound signer.
func GenerateEd25519Signer(did DID) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{did: did, priv: priv}, nil
}

// DeriveDID renders a public key as a did:key-style identifier: the
// method name followed by a base58btc-encoded public key, e.g.
// "did:icn:z6Mk...". It gives nodes a DID that is self-certifying:
// anyone holding the public key can recompute it, no registry needed.
func DeriveDID(method string, pub []byte) DID {
	return DID(fmt.Sprintf("did:%s:z%s", method, base58.Encode(pub)))
}

// GenerateEd25519Identity creates a fresh Ed25519 keypair and derives
// its DID from the public key via DeriveDID, rather than accepting a
// caller-chosen identifier.
func GenerateEd25519Identity(method string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{did: DeriveDID(method, pub), priv: priv}, nil
}

func (s *Ed25519Signer) DID() DID           { return s.did }
func (s *Ed25519Signer) Algo() KeyAlgo      { return AlgoEd25519 }
func (s *Ed25519Signer) PublicKey() []byte  { return []byte(s.priv.Public().(ed25519.PublicKey)) }
func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// BLSSigner enables federation co-signing via signature aggregation.
type BLSSigner struct {
	did DID
	sec bls.SecretKey
}

// NewBLSSigner wraps a BLS secret key already seeded by the caller.
func NewBLSSigner(did DID, sec bls.SecretKey) *BLSSigner {
	return &BLSSigner{did: did, sec: sec}
}

// GenerateBLSSigner creates a fresh BLS keypair.
func GenerateBLSSigner(did DID) *BLSSigner {
	var sec bls.SecretKey
	sec.SetByCSPRNG()
	return &BLSSigner{did: did, sec: sec}
}

func (s *BLSSigner) DID() DID      { return s.did }
func (s *BLSSigner) Algo() KeyAlgo { return AlgoBLS }
func (s *BLSSigner) PublicKey() []byte {
	pub := s.sec.GetPublicKey()
	return pub.Serialize()
}
func (s *BLSSigner) Sign(msg []byte) ([]byte, error) {
	sig := s.sec.SignByte(msg)
	return sig.Serialize(), nil
}

// AggregateBLSSigs combines per-signer BLS signatures into a single
// federation co-signature.
func AggregateBLSSigs(sigs [][]byte) ([]byte, error) {
	var agg bls.Sign
	for i, raw := range sigs {
		var s bls.Sign
		if err := s.Deserialize(raw); err != nil {
			return nil, fmt.Errorf("signer: deserialize sig %d: %w", i, err)
		}
		if i == 0 {
			agg = s
			continue
		}
		agg.Add(&s)
	}
	return agg.Serialize(), nil
}

// AggregateBLSPubKeys merges compressed BLS public keys for
// verification against an aggregated signature.
func AggregateBLSPubKeys(pubKeys [][]byte) ([]byte, error) {
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("%w: no public keys to aggregate", ErrInvalidParameters)
	}
	var agg bls.PublicKey
	for i, raw := range pubKeys {
		var p bls.PublicKey
		if err := p.Deserialize(raw); err != nil {
			return nil, fmt.Errorf("signer: deserialize pubkey %d: %w", i, err)
		}
		if i == 0 {
			agg = p
			continue
		}
		agg.Add(&p)
	}
	return agg.Serialize(), nil
}

// VerifyAggregatedBLS verifies an aggregated signature for an
// identical message against an aggregated public key.
func VerifyAggregatedBLS(aggSig, aggPub, msg []byte) bool {
	var pk bls.PublicKey
	if err := pk.Deserialize(aggPub); err != nil {
		return false
	}
	var sig bls.Sign
	if err := sig.Deserialize(aggSig); err != nil {
		return false
	}
	return sig.VerifyByte(&pk, msg)
}

// DilithiumSigner provides post-quantum signatures for high
// trust-scope jobs where long-term forgery resistance is required.
type DilithiumSigner struct {
	did DID
	pub dilithium.PublicKey
	sec dilithium.PrivateKey
}

// GenerateDilithiumSigner creates a fresh Dilithium3 keypair.
func GenerateDilithiumSigner(did DID) (*DilithiumSigner, error) {
	pub, sec, err := dilithium.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &DilithiumSigner{did: did, pub: *pub, sec: *sec}, nil
}

func (s *DilithiumSigner) DID() DID          { return s.did }
func (s *DilithiumSigner) Algo() KeyAlgo     { return AlgoDilithium }
func (s *DilithiumSigner) PublicKey() []byte { return s.pub.Bytes() }
func (s *DilithiumSigner) Sign(msg []byte) ([]byte, error) {
	return s.sec.Sign(rand.Reader, msg, crypto.Hash(0))
}

// Verify dispatches signature verification by algorithm.
func Verify(algo KeyAlgo, pub, msg, sig []byte) bool {
	switch algo {
	case AlgoEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
	case AlgoBLS:
		var p bls.PublicKey
		if err := p.Deserialize(pub); err != nil {
			return false
		}
		var s bls.Sign
		if err := s.Deserialize(sig); err != nil {
			return false
		}
		return s.VerifyByte(&p, msg)
	case AlgoDilithium:
		var p dilithium.PublicKey
		if err := p.UnmarshalBinary(pub); err != nil {
			return false
		}
		return dilithium.Verify(&p, msg, sig)
	default:
		return false
	}
}

// DIDResolver resolves a DID to the verifying key material anchored
// to it. Receipt verification always resolves at verification time
// rather than caching across boundaries, per the node's identity
// invalidation contract.
type DIDResolver interface {
	Resolve(did DID) (pub []byte, algo KeyAlgo, err error)
}

// MapDIDResolver is the default resolver: a registry of DID
// documents populated by identity registration (external collaborator
// in production; directly seeded in tests and single-node setups).
type MapDIDResolver struct {
	mu      sync.RWMutex
	entries map[DID]didEntry
}

type didEntry struct {
	pub  []byte
	algo KeyAlgo
}

// NewMapDIDResolver returns an empty resolver.
func NewMapDIDResolver() *MapDIDResolver {
	return &MapDIDResolver{entries: make(map[DID]didEntry)}
}

// Register binds a DID to its verifying key material.
func (r *MapDIDResolver) Register(did DID, pub []byte, algo KeyAlgo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[did] = didEntry{pub: pub, algo: algo}
}

// Resolve implements DIDResolver.
func (r *MapDIDResolver) Resolve(did DID) ([]byte, KeyAlgo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[did]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unresolved did %s", ErrNotFound, did)
	}
	return e.pub, e.algo, nil
}

// VerifyFromDID resolves did and verifies sig over msg against its
// registered key. Used uniformly by receipt, bid and vote validation.
func VerifyFromDID(r DIDResolver, did DID, msg, sig []byte) bool {
	pub, algo, err := r.Resolve(did)
	if err != nil {
		return false
	}
	return Verify(algo, pub, msg, sig)
}
