package core

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MessageType tags a wire message so receivers can dispatch without
// decoding the full payload first. Unknown tags are ignored rather
// than treated as errors.
type MessageType uint8

const (
	MsgJobAnnouncement MessageType = iota + 1
	MsgBidSubmit
	MsgJobAssignment
	MsgSubmitReceipt
	MsgFederationJoinRequest
	MsgGossip
	MsgDAGBlock
)

// JobAnnouncement is broadcast when a job enters BiddingOpen.
type JobAnnouncement struct {
	JobID       CID       `cbor:"job_id"`
	ManifestCID CID       `cbor:"manifest_cid"`
	Creator     DID       `cbor:"creator"`
	Kind        JobKind   `cbor:"kind"`
	MaxCost     uint64    `cbor:"max_cost"`
	Spec        []byte    `cbor:"spec"`
	BidDeadline time.Time `cbor:"bid_deadline"`
}

// BidSubmit carries a signed bid to the job's submitter.
type BidSubmit struct {
	Bid       Bid    `cbor:"bid"`
	Signature []byte `cbor:"signature"`
}

// JobAssignment notifies the winning executor.
type JobAssignment struct {
	JobID       CID    `cbor:"job_id"`
	Executor    DID    `cbor:"executor"`
	AgreedCost  uint64 `cbor:"agreed_cost"`
	ManifestCID *CID   `cbor:"manifest_cid,omitempty"`
	Signature   []byte `cbor:"signature"`
}

// SubmitReceipt carries the executor's signed execution outcome.
type SubmitReceipt struct {
	Receipt   Receipt `cbor:"receipt"`
	Signature []byte  `cbor:"signature"`
}

// FederationJoinRequest asks to join a named federation.
type FederationJoinRequest struct {
	Federation string `cbor:"federation"`
	Requester  DID    `cbor:"requester"`
}

// GossipMessage is an opaque, time-to-live bounded broadcast envelope
// used for anything not covered by the typed messages above.
type GossipMessage struct {
	Topic   string `cbor:"topic"`
	Payload []byte `cbor:"payload"`
	TTL     uint32 `cbor:"ttl"`
}

// Envelope pairs a MessageType tag with its CBOR-encoded body so the
// wire format stays self-describing across protocol versions.
type Envelope struct {
	Type MessageType `cbor:"type"`
	Body []byte      `cbor:"body"`
}

// wireEncMode encodes time.Time as RFC 3339 text with nanoseconds, so
// timestamps that feed a block's CID survive the round trip intact.
var wireEncMode, _ = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()

// EncodeEnvelope CBOR-encodes msg, wraps it in a tagged Envelope, and
// length-prefixes the result for stream framing.
func EncodeEnvelope(t MessageType, msg any) ([]byte, error) {
	body, err := wireEncMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode body: %v", ErrInvalidParameters, err)
	}
	env, err := wireEncMode.Marshal(Envelope{Type: t, Body: body})
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %v", ErrInvalidParameters, err)
	}
	var out []byte
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(env)))
	out = append(out, lenBuf[:]...)
	out = append(out, env...)
	return out, nil
}

// decodeCBOR is a thin wrapper around cbor.Unmarshal used to decode
// envelope bodies into their typed message structs.
func decodeCBOR(body []byte, v any) error {
	return cbor.Unmarshal(body, v)
}

// DecodeEnvelope reads one length-prefixed envelope from buf and
// returns its tag, raw body and the number of bytes consumed. An
// unknown tag is not an error; callers skip it per the wire contract.
func DecodeEnvelope(buf []byte) (t MessageType, body []byte, consumed int, err error) {
	if len(buf) < 4 {
		return 0, nil, 0, fmt.Errorf("%w: short read", ErrInvalidParameters)
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if len(buf) < 4+int(n) {
		return 0, nil, 0, fmt.Errorf("%w: truncated frame", ErrInvalidParameters)
	}
	var env Envelope
	if err := cbor.Unmarshal(buf[4:4+n], &env); err != nil {
		return 0, nil, 0, fmt.Errorf("%w: decode envelope: %v", ErrInvalidParameters, err)
	}
	return env.Type, env.Body, 4 + int(n), nil
}
