package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Announcer is the network-facing capability the job engine calls
// through, rather than holding a strong handle to C6 directly.
type Announcer interface {
	AnnounceJob(JobAnnouncement) error
	NotifyAssignment(JobAssignment) error
}

// Default lifecycle timings.
const (
	DefaultBidWindow        = 10 * time.Second
	DefaultReceiptTimeout   = 30 * time.Second
	DefaultSubmissionQueue  = 128
)

type jobState struct {
	mu          sync.Mutex
	job         Job
	bids        []Bid
	assignment  *Assignment
	receipt     *Receipt
	checkpoints []Checkpoint
	status      JobStatus
	reason      FailureReason
	cancel      chan struct{}
	cancelled   bool
	receiptCh   chan Receipt
}

// JobEngine orchestrates the job state machine and owns the single-round
// sealed auctions (C7). For a given job id the lifecycle task is
// single-threaded; mutations on distinct jobs may run concurrently.
type JobEngine struct {
	store      BlockStore
	mana       *ManaLedger
	reputation *ReputationStore
	resolver   DIDResolver
	announcer  Announcer
	policy     SelectionPolicy
	clock      func() time.Time
	bidWindow  time.Duration
	receiptWait time.Duration

	mu   sync.Mutex
	jobs map[CID]*jobState

	sem chan struct{} // bounded submission back-pressure
}

// NewJobEngine wires the job lifecycle engine to its capability
// dependencies.
func NewJobEngine(store BlockStore, mana *ManaLedger, reputation *ReputationStore, resolver DIDResolver, announcer Announcer) *JobEngine {
	return &JobEngine{
		store:       store,
		mana:        mana,
		reputation:  reputation,
		resolver:    resolver,
		announcer:   announcer,
		policy:      DefaultSelectionPolicy(),
		clock:       time.Now,
		bidWindow:   DefaultBidWindow,
		receiptWait: DefaultReceiptTimeout,
		jobs:        make(map[CID]*jobState),
		sem:         make(chan struct{}, DefaultSubmissionQueue),
	}
}

// SetClock overrides the time source, used by deterministic tests.
func (e *JobEngine) SetClock(now func() time.Time) { e.clock = now }

// SetTimings overrides the bid window and receipt wait.
func (e *JobEngine) SetTimings(bidWindow, receiptWait time.Duration) {
	e.bidWindow = bidWindow
	e.receiptWait = receiptWait
}

// SubmitJob implements the host ABI's submit_job operation.
func (e *JobEngine) SubmitJob(submitter DID, manifestCID CID, specBytes []byte, costMana uint64, kind JobKind, req ResourceSpec) (CID, error) {
	select {
	case e.sem <- struct{}{}:
	default:
		return CID{}, ErrCongested
	}
	release := func() { <-e.sem }

	reputation := e.reputation.Get(submitter)
	adjusted := uint64(PriceByReputation(float64(costMana), reputation))
	if adjusted == 0 && costMana > 0 {
		adjusted = 1
	}

	if _, err := e.mana.Spend(submitter, adjusted); err != nil {
		release()
		return CID{}, fmt.Errorf("submit_job: %w", err)
	}

	now := e.clock()
	job := Job{
		ManifestCID:       manifestCID,
		SpecBytes:         specBytes,
		Submitter:         submitter,
		CostMana:          adjusted,
		SubmittedAt:       now,
		Status:            StatusSubmitted,
		RequiredResources: req,
		Kind:              kind,
		BidDeadline:       now.Add(e.bidWindow),
		MaxCostMana:       costMana,
	}
	data, err := encodeJSON(job)
	if err != nil {
		e.refund(submitter, adjusted)
		release()
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	cid := ComputeCID(CodecJob, data, nil, now.UnixNano(), submitter, nil, job.TrustScope)
	job.ID = cid
	b := Block{CID: cid, Codec: CodecJob, Data: data, Timestamp: now, Author: submitter, Scope: job.TrustScope}
	if _, err := e.store.Put(b); err != nil {
		e.refund(submitter, adjusted)
		release()
		return CID{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	st := &jobState{job: job, status: StatusSubmitted, cancel: make(chan struct{}), receiptCh: make(chan Receipt, 1)}
	e.mu.Lock()
	e.jobs[cid] = st
	e.mu.Unlock()

	if e.announcer != nil {
		if err := e.announcer.AnnounceJob(JobAnnouncement{
			JobID:       cid,
			ManifestCID: manifestCID,
			Creator:     submitter,
			Kind:        kind,
			MaxCost:     costMana,
			Spec:        specBytes,
			BidDeadline: job.BidDeadline,
		}); err != nil {
			logrus.WithError(err).Warn("job_lifecycle: announce failed, continuing")
		}
	}

	go func() {
		defer release()
		e.runLifecycle(st)
	}()

	return cid, nil
}

func (e *JobEngine) refund(submitter DID, amount uint64) {
	if amount == 0 {
		return
	}
	if err := e.mana.Credit(submitter, amount); err != nil {
		logrus.WithError(err).Error("job_lifecycle: refund failed")
	}
}

// SubmitBid records an inbound bid against an open job.
func (e *JobEngine) SubmitBid(jobID CID, bid Bid) error {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != StatusSubmitted && st.status != StatusBiddingOpen {
		return fmt.Errorf("%w: job not accepting bids", ErrPolicyDenied)
	}
	if e.clock().After(st.job.BidDeadline) {
		return fmt.Errorf("%w: bid deadline elapsed", ErrPolicyDenied)
	}
	data, err := encodeJSON(bid)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	now := e.clock()
	cid := ComputeCID(CodecBid, data, []Link{{CID: jobID, Name: "job"}}, now.UnixNano(), bid.Executor, bid.Signature, "")
	blk := Block{
		CID:       cid,
		Codec:     CodecBid,
		Data:      data,
		Links:     []Link{{CID: jobID, Name: "job"}},
		Timestamp: now,
		Author:    bid.Executor,
		Signature: bid.Signature,
	}
	if _, err := e.store.Put(blk); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	st.bids = append(st.bids, bid)
	st.status = StatusBiddingOpen
	return nil
}

// CancelJob cancels a job prior to its terminal state.
func (e *JobEngine) CancelJob(jobID CID) error {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if isTerminal(st.status) {
		return fmt.Errorf("%w: job already terminal", ErrPolicyDenied)
	}
	if st.cancelled {
		return nil
	}
	st.cancelled = true
	close(st.cancel)
	return nil
}

func isTerminal(s JobStatus) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// GetJob reconstructs the lifecycle view of a job from the DAG store
// by a one-pass scan of blocks whose links reference the job CID.
func (e *JobEngine) GetJob(jobID CID) (Lifecycle, error) {
	blk, ok, err := e.store.Get(jobID)
	if err != nil {
		return Lifecycle{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if !ok {
		return Lifecycle{}, ErrNotFound
	}
	var job Job
	if err := decodeJSON(blk.Data, &job); err != nil {
		return Lifecycle{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	// The stored body is encoded before its CID exists, so the id is
	// taken from the block address.
	job.ID = jobID
	children, err := e.store.ChildrenOf(jobID)
	if err != nil {
		return Lifecycle{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	lc := Lifecycle{Job: job, Status: job.Status}
	for _, c := range children {
		switch c.Codec {
		case CodecBid:
			var b Bid
			if decodeJSON(c.Data, &b) == nil {
				lc.Bids = append(lc.Bids, b)
			}
		case CodecAssignment:
			var a Assignment
			if decodeJSON(c.Data, &a) == nil {
				lc.Assignment = &a
			}
		case CodecReceipt:
			var r Receipt
			if decodeJSON(c.Data, &r) == nil {
				lc.Receipt = &r
			}
		case CodecCheckpoint:
			var ck Checkpoint
			if decodeJSON(c.Data, &ck) == nil {
				lc.Checkpoints = append(lc.Checkpoints, ck)
			}
		}
	}
	sort.Slice(lc.Checkpoints, func(i, j int) bool {
		return lc.Checkpoints[i].Timestamp.Before(lc.Checkpoints[j].Timestamp)
	})
	switch {
	case lc.Receipt != nil && lc.Receipt.Success:
		lc.Status = StatusCompleted
	case lc.Receipt != nil && !lc.Receipt.Success:
		lc.Status = StatusFailed
	case lc.Assignment != nil && len(lc.Checkpoints) > 0:
		lc.Status = StatusExecuting
	case lc.Assignment != nil:
		lc.Status = StatusAssigned
	case len(lc.Bids) > 0:
		lc.Status = StatusBiddingClosed
	}
	// Live in-memory state, when the job is still tracked locally, takes
	// precedence for the terminal reason, which is not recoverable from
	// the DAG scan alone.
	e.liveStatus(jobID, &lc)
	return lc, nil
}

func (e *JobEngine) liveStatus(jobID CID, lc *Lifecycle) bool {
	e.mu.Lock()
	st, ok := e.jobs[jobID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if isTerminal(st.status) {
		lc.Status = st.status
		lc.Reason = st.reason
	}
	return true
}

// runLifecycle drives BiddingOpen through a terminal state for one
// job. It is the sole writer of this job's state after submission.
func (e *JobEngine) runLifecycle(st *jobState) {
	jobID := st.job.ID

	st.mu.Lock()
	st.status = StatusBiddingOpen
	st.mu.Unlock()

	select {
	case <-time.After(e.bidWindow):
	case <-st.cancel:
		e.finishCancelled(st)
		return
	}

	st.mu.Lock()
	st.status = StatusBiddingClosed
	bids := append([]Bid(nil), st.bids...)
	job := st.job
	st.mu.Unlock()

	if len(bids) == 0 {
		e.finishFailed(st, ReasonNoBids, true)
		return
	}

	ctx := BidContext{
		Balance:    e.mana.GetBalance,
		Reputation: e.reputation.Get,
	}
	winner, _, ok := SelectWinner(job, bids, e.policy, ctx)
	if !ok {
		e.finishFailed(st, ReasonNoSuitableExecutor, true)
		return
	}

	now := e.clock()
	assignment := Assignment{
		JobID:              jobID,
		WinningBidID:       winner.BidID,
		Executor:           winner.Executor,
		AssignedAt:         now,
		FinalPrice:         winner.PriceMana,
		CommittedResources: winner.Resources,
	}
	data, err := encodeJSON(assignment)
	if err != nil {
		e.finishFailed(st, ReasonInternal, true)
		return
	}
	links := []Link{{CID: jobID, Name: "job"}}
	cid := ComputeCID(CodecAssignment, data, links, now.UnixNano(), job.Submitter, nil, "")
	blk := Block{CID: cid, Codec: CodecAssignment, Data: data, Links: links, Timestamp: now, Author: job.Submitter}
	if _, err := e.store.Put(blk); err != nil {
		e.finishFailed(st, ReasonInternal, true)
		return
	}

	st.mu.Lock()
	st.assignment = &assignment
	st.status = StatusAssigned
	st.mu.Unlock()

	if e.announcer != nil {
		var mcid *CID
		if !job.ManifestCID.IsZero() {
			mc := job.ManifestCID
			mcid = &mc
		}
		if err := e.announcer.NotifyAssignment(JobAssignment{
			JobID:       jobID,
			Executor:    winner.Executor,
			AgreedCost:  winner.PriceMana,
			ManifestCID: mcid,
		}); err != nil {
			logrus.WithError(err).Warn("job_lifecycle: assignment notify failed, continuing")
		}
	}

	st.mu.Lock()
	st.status = StatusExecuting
	st.mu.Unlock()

	e.awaitReceipt(st, assignment)
}

func (e *JobEngine) awaitReceipt(st *jobState, assignment Assignment) {
	timer := time.NewTimer(e.receiptWait)
	defer timer.Stop()
	select {
	case <-timer.C:
		e.reputation.RecordFailures(assignment.Executor, 1)
		e.finishFailed(st, ReasonTimeout, true)
	case <-st.cancel:
		e.finishCancelled(st)
	case r := <-st.receiptCh:
		e.completeWithReceipt(st, assignment, r)
	}
}

// ReceiptSigningBytes is the canonical payload an executor signs over
// before anchoring a receipt; AnchorReceipt re-derives the same bytes
// to verify the signature against the receipt's declared executor.
func ReceiptSigningBytes(r Receipt) ([]byte, error) {
	return encodeJSON(struct {
		JobID     CID
		Executor  DID
		Success   bool
		CPUMillis uint64
		ResultCID CID
	}{r.JobID, r.Executor, r.Success, r.CPUMillis, r.ResultCID})
}

// AnchorReceipt implements anchor_receipt: it validates the executor
// identity, verifies the signature, and records the receipt so the
// awaiting lifecycle task can complete.
func (e *JobEngine) AnchorReceipt(receipt Receipt) (CID, error) {
	e.mu.Lock()
	st, ok := e.jobs[receipt.JobID]
	e.mu.Unlock()
	if !ok {
		return CID{}, ErrNotFound
	}
	st.mu.Lock()
	assignment := st.assignment
	st.mu.Unlock()
	if assignment == nil {
		return CID{}, fmt.Errorf("%w: no assignment for job", ErrPolicyDenied)
	}
	if receipt.Executor != assignment.Executor {
		return CID{}, fmt.Errorf("%w: receipt executor mismatch", ErrPolicyDenied)
	}
	msgData, err := ReceiptSigningBytes(receipt)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if e.resolver != nil && !VerifyFromDID(e.resolver, receipt.Executor, msgData, receipt.Signature) {
		return CID{}, ErrSignatureInvalid
	}

	now := e.clock()
	links := []Link{{CID: receipt.JobID, Name: "job"}}
	data, err := encodeJSON(receipt)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	cid := ComputeCID(CodecReceipt, data, links, now.UnixNano(), receipt.Executor, receipt.Signature, "")
	blk := Block{CID: cid, Codec: CodecReceipt, Data: data, Links: links, Timestamp: now, Author: receipt.Executor, Signature: receipt.Signature}
	if _, err := e.store.Put(blk); err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	st.mu.Lock()
	st.receipt = &receipt
	ch := st.receiptCh
	st.mu.Unlock()
	select {
	case ch <- receipt:
	default:
	}
	return cid, nil
}

// AnchorCheckpoint persists a signed progress marker for a long-running
// job as a child block of the job. Checkpoints are accepted only while
// the job is non-terminal; the reconstructed lifecycle orders them by
// timestamp.
func (e *JobEngine) AnchorCheckpoint(cp Checkpoint) (CID, error) {
	e.mu.Lock()
	st, ok := e.jobs[cp.JobID]
	e.mu.Unlock()
	if !ok {
		return CID{}, ErrNotFound
	}
	st.mu.Lock()
	terminal := isTerminal(st.status)
	st.mu.Unlock()
	if terminal {
		return CID{}, fmt.Errorf("%w: job already terminal", ErrPolicyDenied)
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = e.clock()
	}
	data, err := encodeJSON(cp)
	if err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	links := []Link{{CID: cp.JobID, Name: "job"}}
	cid := ComputeCID(CodecCheckpoint, data, links, cp.Timestamp.UnixNano(), DID(""), cp.Signature, "")
	blk := Block{CID: cid, Codec: CodecCheckpoint, Data: data, Links: links, Timestamp: cp.Timestamp, Signature: cp.Signature}
	if _, err := e.store.Put(blk); err != nil {
		return CID{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	st.mu.Lock()
	st.checkpoints = append(st.checkpoints, cp)
	st.mu.Unlock()
	return cid, nil
}

func (e *JobEngine) completeWithReceipt(st *jobState, assignment Assignment, receipt Receipt) {
	st.mu.Lock()
	submitter := st.job.Submitter
	st.mu.Unlock()

	if receipt.Success {
		if err := e.mana.Credit(assignment.Executor, assignment.FinalPrice); err != nil {
			logrus.WithError(err).Error("job_lifecycle: executor payment failed")
		}
		e.reputation.RecordSuccess(assignment.Executor)
		st.mu.Lock()
		st.status = StatusCompleted
		st.mu.Unlock()
		return
	}

	e.refund(submitter, st.job.CostMana)
	e.reputation.RecordFailures(assignment.Executor, 1)
	st.mu.Lock()
	st.status = StatusFailed
	st.reason = ReasonExecutionFailed
	st.mu.Unlock()
}

func (e *JobEngine) finishFailed(st *jobState, reason FailureReason, refund bool) {
	st.mu.Lock()
	submitter := st.job.Submitter
	amount := st.job.CostMana
	st.status = StatusFailed
	st.reason = reason
	st.mu.Unlock()
	if refund {
		e.refund(submitter, amount)
	}
}

func (e *JobEngine) finishCancelled(st *jobState) {
	st.mu.Lock()
	submitter := st.job.Submitter
	amount := st.job.CostMana
	st.status = StatusCancelled
	st.mu.Unlock()
	e.refund(submitter, amount)
}
