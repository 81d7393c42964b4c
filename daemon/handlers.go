package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"icn-node/core"
)

// handlers groups the HTTP handler methods so each keeps a receiver
// into the shared RuntimeContext without package-level state.
type handlers struct {
	rc *core.RuntimeContext
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidParameters), errors.Is(err, core.ErrSignatureInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrInsufficientMana), errors.Is(err, core.ErrInsufficientToken), errors.Is(err, core.ErrPolicyDenied):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrCongested):
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.rc == nil {
		writeError(w, errors.New("runtime context not initialised"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "did": string(h.rc.Self)})
}

type submitJobRequest struct {
	ManifestCID string            `json:"manifest_cid"`
	SpecBase64  string            `json:"spec"`
	CostMana    uint64            `json:"cost_mana"`
	Kind        core.JobKind      `json:"kind"`
	Resources   core.ResourceSpec `json:"resources"`
}

func (h *handlers) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	var manifest core.CID
	if req.ManifestCID != "" {
		var err error
		if manifest, err = core.ParseCID(req.ManifestCID); err != nil {
			writeError(w, err)
			return
		}
	}
	jobID, err := h.rc.SubmitJob(manifest, []byte(req.SpecBase64), req.CostMana, req.Kind, req.Resources)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
}

func jobIDFromPath(r *http.Request) (core.CID, error) {
	return core.ParseCID(chi.URLParam(r, "jobID"))
}

func (h *handlers) jobStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lc, err := h.rc.GetJobStatus(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.rc.Jobs.CancelJob(jobID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *handlers) anchorReceipt(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDFromPath(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var receipt core.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	receipt.JobID = jobID
	cid, err := h.rc.AnchorReceipt(receipt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receipt_cid": cid.String()})
}

func (h *handlers) manaBalance(w http.ResponseWriter, r *http.Request) {
	did := core.DID(chi.URLParam(r, "did"))
	acct := h.rc.Mana.Account(did)
	writeJSON(w, http.StatusOK, acct)
}

type manaAmountRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *handlers) creditMana(w http.ResponseWriter, r *http.Request) {
	did := core.DID(chi.URLParam(r, "did"))
	var req manaAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	if err := h.rc.CreditMana(did, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) spendMana(w http.ResponseWriter, r *http.Request) {
	did := core.DID(chi.URLParam(r, "did"))
	var req manaAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	if err := h.rc.SpendMana(did, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProposalRequest struct {
	Changes map[string]string `json:"changes"`
}

func (h *handlers) createProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	id, err := h.rc.CreateGovernanceProposal(req.Changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"proposal_id": id})
}

type castVoteRequest struct {
	Approve bool `json:"approve"`
}

func (h *handlers) castVote(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, core.ErrInvalidParameters)
		return
	}
	if err := h.rc.CastGovernanceVote(id, req.Approve); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) tally(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	approve, reject := h.rc.Governance.Tally(id)
	writeJSON(w, http.StatusOK, map[string]int{"approve": approve, "reject": reject})
}

func (h *handlers) applyProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.rc.Governance.ApplyProposal(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
