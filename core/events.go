package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventLog anchors ledger and economic-engine events to the
// content-addressed store as signed DAG blocks, giving every balance
// mutation a replayable, causally-ordered history.
type EventLog struct {
	store  BlockStore
	signer Signer
}

// NewEventLog binds an event log to a store and the signer used to
// author its anchoring blocks.
func NewEventLog(store BlockStore, signer Signer) *EventLog {
	return &EventLog{store: store, signer: signer}
}

// EmitLedgerEvent implements EventSink by anchoring e as a DAG block.
func (l *EventLog) EmitLedgerEvent(e LedgerEvent) (CID, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return l.anchor(CodecEvent, data, nil)
}

// EmitNamed anchors an arbitrary named economic-engine event
// (ManaRegenerated, ResourceAllocated, PolicyViolation,
// ThresholdReached, ...) carrying a free-form payload.
func (l *EventLog) EmitNamed(kind string, payload any) (CID, error) {
	wrapped := struct {
		Kind    string `json:"kind"`
		Payload any    `json:"payload"`
	}{Kind: kind, Payload: payload}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return l.anchor(CodecEvent, data, nil)
}

func (l *EventLog) anchor(codec Codec, data []byte, links []Link) (CID, error) {
	var author DID
	var sig []byte
	now := time.Now()
	if l.signer != nil {
		author = l.signer.DID()
		cid := ComputeCID(codec, data, links, now.UnixNano(), author, nil, "")
		s, err := l.signer.Sign(cid[:])
		if err != nil {
			return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
		}
		sig = s
	}
	cid := ComputeCID(codec, data, links, now.UnixNano(), author, sig, "")
	b := Block{
		CID:       cid,
		Codec:     codec,
		Data:      data,
		Links:     links,
		Timestamp: now,
		Author:    author,
		Signature: sig,
	}
	return l.store.Put(b)
}
