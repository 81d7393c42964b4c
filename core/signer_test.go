package core

import "testing"

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	msg := []byte("job receipt payload")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(signer.Algo(), signer.PublicKey(), msg, sig) {
		t.Fatalf("signature failed to verify against its own public key")
	}
	if Verify(signer.Algo(), signer.PublicKey(), []byte("tampered payload"), sig) {
		t.Fatalf("signature verified against a tampered message")
	}
}

func TestDeriveDIDIsSelfCertifying(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	if got := DeriveDID("icn", signer.PublicKey()); got != signer.DID() {
		t.Fatalf("DeriveDID(pub) = %s, want %s", got, signer.DID())
	}
}

func TestMapDIDResolverRoundTrip(t *testing.T) {
	signer, err := GenerateEd25519Identity("icn")
	if err != nil {
		t.Fatalf("GenerateEd25519Identity: %v", err)
	}
	r := NewMapDIDResolver()
	r.Register(signer.DID(), signer.PublicKey(), signer.Algo())

	msg := []byte("bid payload")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifyFromDID(r, signer.DID(), msg, sig) {
		t.Fatalf("VerifyFromDID failed for a registered DID")
	}
	if VerifyFromDID(r, DID("did:icn:unregistered"), msg, sig) {
		t.Fatalf("VerifyFromDID succeeded for an unregistered DID")
	}
}

func TestBLSAggregateSignaturesAndKeys(t *testing.T) {
	s1 := GenerateBLSSigner(DID("did:icn:fed1"))
	s2 := GenerateBLSSigner(DID("did:icn:fed2"))
	msg := []byte("federation co-signed checkpoint")

	sig1, err := s1.Sign(msg)
	if err != nil {
		t.Fatalf("Sign 1: %v", err)
	}
	sig2, err := s2.Sign(msg)
	if err != nil {
		t.Fatalf("Sign 2: %v", err)
	}

	aggSig, err := AggregateBLSSigs([][]byte{sig1, sig2})
	if err != nil {
		t.Fatalf("AggregateBLSSigs: %v", err)
	}
	aggPub, err := AggregateBLSPubKeys([][]byte{s1.PublicKey(), s2.PublicKey()})
	if err != nil {
		t.Fatalf("AggregateBLSPubKeys: %v", err)
	}
	if !VerifyAggregatedBLS(aggSig, aggPub, msg) {
		t.Fatalf("aggregated BLS signature failed to verify")
	}
}

func TestDilithiumSignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateDilithiumSigner(DID("did:icn:pq-node"))
	if err != nil {
		t.Fatalf("GenerateDilithiumSigner: %v", err)
	}
	msg := []byte("high trust-scope payload")
	sig, err := signer.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(signer.Algo(), signer.PublicKey(), msg, sig) {
		t.Fatalf("Dilithium signature failed to verify")
	}
}
