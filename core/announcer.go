package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Mesh pub-sub topics carrying the typed job-lifecycle messages and
// DAG block replication.
const (
	TopicJobAnnounce   = "icn/job-announce"
	TopicBidSubmit     = "icn/bid-submit"
	TopicJobAssign     = "icn/job-assign"
	TopicSubmitReceipt = "icn/submit-receipt"
	TopicDAGBlock      = "icn/dag-block"
)

// Publisher is the outbound slice of the transport: publish a frame on
// a topic. Node satisfies it; tests substitute a capturing fake.
type Publisher interface {
	Broadcast(topic string, data []byte) error
}

// NetworkAnnouncer implements Announcer by publishing CBOR envelopes
// over gossip topics, so JobEngine never holds a strong handle to the
// transport directly.
type NetworkAnnouncer struct {
	pub Publisher
}

// NewNetworkAnnouncer wires an Announcer to a live transport.
func NewNetworkAnnouncer(pub Publisher) *NetworkAnnouncer {
	return &NetworkAnnouncer{pub: pub}
}

var _ Announcer = (*NetworkAnnouncer)(nil)

// AnnounceJob publishes a job announcement on the job-announce topic.
func (a *NetworkAnnouncer) AnnounceJob(ann JobAnnouncement) error {
	frame, err := EncodeEnvelope(MsgJobAnnouncement, ann)
	if err != nil {
		return err
	}
	return a.pub.Broadcast(TopicJobAnnounce, frame)
}

// NotifyAssignment publishes a job assignment on the job-assign topic.
func (a *NetworkAnnouncer) NotifyAssignment(asg JobAssignment) error {
	frame, err := EncodeEnvelope(MsgJobAssignment, asg)
	if err != nil {
		return err
	}
	return a.pub.Broadcast(TopicJobAssign, frame)
}

// ReplicateBlock publishes a locally anchored DAG block on the
// replication topic so peers converge on the same lifecycle history.
// Wired to the store's put hook by the node binary; peers that already
// hold the block absorb it idempotently and do not rebroadcast.
func (a *NetworkAnnouncer) ReplicateBlock(b Block) error {
	frame, err := EncodeEnvelope(MsgDAGBlock, b)
	if err != nil {
		return err
	}
	return a.pub.Broadcast(TopicDAGBlock, frame)
}

// Orchestrator bridges inbound mesh traffic to the job engine and
// executor manager: it decides whether to bid on announcements, bids
// and receipts flow into the local engine, assignments addressed to
// this node's executor are executed, and replicated DAG blocks are
// absorbed into the local store.
type Orchestrator struct {
	node     *Node
	pub      Publisher
	engine   *JobEngine
	executor *ExecutorManager
	store    BlockStore
	required ResourceSpec
	maxExec  uint64
}

// NewOrchestrator wires the inbound-message loop to its collaborators.
// required and maxExec bound the resource profile this node is
// willing to evaluate bids against.
func NewOrchestrator(node *Node, engine *JobEngine, executor *ExecutorManager, store BlockStore, required ResourceSpec, maxExec uint64) *Orchestrator {
	return &Orchestrator{
		node:     node,
		pub:      node,
		engine:   engine,
		executor: executor,
		store:    store,
		required: required,
		maxExec:  maxExec,
	}
}

// Run subscribes to the job-lifecycle and replication topics and
// processes inbound messages until the node shuts down. It is meant to
// run in its own goroutine.
func (o *Orchestrator) Run() error {
	announceCh, err := o.node.Subscribe(TopicJobAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicJobAnnounce, err)
	}
	assignCh, err := o.node.Subscribe(TopicJobAssign)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicJobAssign, err)
	}
	bidCh, err := o.node.Subscribe(TopicBidSubmit)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicBidSubmit, err)
	}
	receiptCh, err := o.node.Subscribe(TopicSubmitReceipt)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicSubmitReceipt, err)
	}
	blockCh, err := o.node.Subscribe(TopicDAGBlock)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicDAGBlock, err)
	}

	for {
		select {
		case msg, ok := <-announceCh:
			if !ok {
				return nil
			}
			o.handleAnnouncement(msg.Data)
		case msg, ok := <-assignCh:
			if !ok {
				return nil
			}
			o.handleAssignment(msg.Data)
		case msg, ok := <-bidCh:
			if !ok {
				return nil
			}
			o.handleBid(msg.Data)
		case msg, ok := <-receiptCh:
			if !ok {
				return nil
			}
			o.handleReceipt(msg.Data)
		case msg, ok := <-blockCh:
			if !ok {
				return nil
			}
			o.handleDAGBlock(msg.Data)
		}
	}
}

func (o *Orchestrator) handleAnnouncement(frame []byte) {
	_, body, _, err := DecodeEnvelope(frame)
	if err != nil {
		logrus.WithError(err).Debug("orchestrator: drop malformed announcement")
		return
	}
	var ann JobAnnouncement
	if err := decodeCBOR(body, &ann); err != nil {
		logrus.WithError(err).Debug("orchestrator: drop undecodable announcement")
		return
	}
	bid, ok := o.executor.DecideBid(ann, o.required, o.maxExec)
	if !ok {
		return
	}
	frame2, err := EncodeEnvelope(MsgBidSubmit, BidSubmit{Bid: bid, Signature: bid.Signature})
	if err != nil {
		logrus.WithError(err).Warn("orchestrator: encode bid failed")
		return
	}
	if err := o.pub.Broadcast(TopicBidSubmit, frame2); err != nil {
		logrus.WithError(err).Warn("orchestrator: broadcast bid failed")
	}
}

func (o *Orchestrator) handleBid(frame []byte) {
	_, body, _, err := DecodeEnvelope(frame)
	if err != nil {
		return
	}
	var submit BidSubmit
	if err := decodeCBOR(body, &submit); err != nil {
		logrus.WithError(err).Debug("orchestrator: drop undecodable bid")
		return
	}
	if err := o.engine.SubmitBid(submit.Bid.JobID, submit.Bid); err != nil {
		logrus.WithError(err).Debug("orchestrator: bid rejected")
	}
}

func (o *Orchestrator) handleAssignment(frame []byte) {
	_, body, _, err := DecodeEnvelope(frame)
	if err != nil {
		return
	}
	var asg JobAssignment
	if err := decodeCBOR(body, &asg); err != nil {
		logrus.WithError(err).Debug("orchestrator: drop undecodable assignment")
		return
	}
	if asg.Executor != o.executor.self {
		return
	}
	lc, err := o.engine.GetJob(asg.JobID)
	if err != nil {
		logrus.WithError(err).Warn("orchestrator: assignment for unknown job")
		return
	}
	assignment := Assignment{JobID: asg.JobID, Executor: asg.Executor, FinalPrice: asg.AgreedCost}
	receipt, err := o.executor.Execute(lc.Job, assignment)
	if err != nil {
		logrus.WithError(err).Warn("orchestrator: execution failed")
		return
	}
	frame2, err := EncodeEnvelope(MsgSubmitReceipt, SubmitReceipt{Receipt: receipt, Signature: receipt.Signature})
	if err != nil {
		logrus.WithError(err).Warn("orchestrator: encode receipt failed")
		return
	}
	if err := o.pub.Broadcast(TopicSubmitReceipt, frame2); err != nil {
		logrus.WithError(err).Warn("orchestrator: broadcast receipt failed")
	}
}

func (o *Orchestrator) handleReceipt(frame []byte) {
	_, body, _, err := DecodeEnvelope(frame)
	if err != nil {
		return
	}
	var submit SubmitReceipt
	if err := decodeCBOR(body, &submit); err != nil {
		logrus.WithError(err).Debug("orchestrator: drop undecodable receipt")
		return
	}
	if _, err := o.engine.AnchorReceipt(submit.Receipt); err != nil {
		logrus.WithError(err).Debug("orchestrator: receipt rejected")
	}
}

// handleDAGBlock absorbs a replicated block into the local store. The
// CID is re-verified before put; blocks whose parents have not arrived
// yet are dropped and picked up again on the next rebroadcast, keeping
// convergence best-effort as gossip allows.
func (o *Orchestrator) handleDAGBlock(frame []byte) {
	_, body, _, err := DecodeEnvelope(frame)
	if err != nil {
		return
	}
	var b Block
	if err := decodeCBOR(body, &b); err != nil {
		logrus.WithError(err).Debug("orchestrator: drop undecodable block")
		return
	}
	if !VerifyCID(b) {
		logrus.Debug("orchestrator: drop replicated block with mismatched cid")
		return
	}
	if _, err := o.store.Put(b); err != nil {
		logrus.WithError(err).Debug("orchestrator: replicated block not absorbed")
	}
}
