package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	cidpkg "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ParseCID decodes a CID from its hex string form, as produced by
// CID.String. Used by the CLI and wire-adjacent code that accepts
// CIDs as plain text.
func ParseCID(s string) (CID, error) {
	var c CID
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("%w: cid must be %d bytes, got %d", ErrInvalidParameters, len(c), len(b))
	}
	copy(c[:], b)
	return c, nil
}

// ComputeCID derives the Merkle content identifier for a DAG block.
// Equal inputs under equal context always yield equal CIDs; the
// digest is double-SHA256 over a canonical concatenation of every
// addressed field.
func ComputeCID(codec Codec, data []byte, links []Link, timestampUnixNano int64, author DID, signature []byte, scope string) CID {
	var buf bytes.Buffer
	buf.WriteString(string(codec))
	buf.WriteByte(0)
	buf.Write(data)
	buf.WriteByte(0)
	for _, l := range links {
		buf.Write(l.CID[:])
		buf.WriteString(l.Name)
		var sz [8]byte
		binary.BigEndian.PutUint64(sz[:], uint64(l.Size))
		buf.Write(sz[:])
	}
	buf.WriteByte(0)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampUnixNano))
	buf.Write(ts[:])
	buf.WriteString(string(author))
	buf.WriteByte(0)
	buf.Write(signature)
	buf.WriteByte(0)
	buf.WriteString(scope)

	first := sha256.Sum256(buf.Bytes())
	second := sha256.Sum256(first[:])
	return CID(second)
}

// CIDFromBlock computes the CID implied by a block's own fields,
// independent of whatever CID value it currently carries.
func CIDFromBlock(b Block) CID {
	return ComputeCID(b.Codec, b.Data, b.Links, b.Timestamp.UnixNano(), b.Author, b.Signature, b.Scope)
}

// VerifyCID reports whether b.CID is the correct Merkle digest of its
// other fields (the store's round-trip invariant). Parent presence,
// the causal-completeness invariant, is checked by the store, not here.
func VerifyCID(b Block) bool {
	return b.CID == CIDFromBlock(b)
}

// ExternalCID wraps the block's double-SHA256 digest in a standard
// multihash and renders it as a CIDv1 string, so blocks can be
// referenced from IPFS-compatible tooling without changing the
// internal 32-byte digest used for addressing and comparison.
func (c CID) ExternalCID() (string, error) {
	digest, err := multihash.Encode(c[:], multihash.SHA2_256)
	if err != nil {
		return "", err
	}
	return cidpkg.NewCidV1(cidpkg.Raw, multihash.Multihash(digest)).String(), nil
}
