package core

import "strings"

// BidContext supplies the observable inputs score_bid needs beyond
// the bid and job themselves: balance and reputation readers are
// small capability abstractions rather than direct ledger handles, so
// the job engine never holds a strong reference to its economic
// dependencies.
type BidContext struct {
	Balance           func(DID) uint64
	Reputation        func(DID) int64
	LatencyMillis     func(DID) float64
	CapabilityOK      func(bid Bid, cap string) bool
	AvailabilityOK    func(bid Bid) bool
}

// ScoreBid deterministically scores a bid against a job under policy.
// Bids failing any hard filter score exactly 0 and are excluded from
// selection. Eligible bids score strictly above 0 after resource
// matching, truncated to an integer for stable ordering.
func ScoreBid(job Job, bid Bid, policy SelectionPolicy, ctx BidContext) int64 {
	if ctx.Balance != nil && ctx.Balance(bid.Executor) < bid.PriceMana {
		return 0
	}
	if len(job.AllowedFederations) > 0 && !inAny(bid.Federations, job.AllowedFederations) {
		return 0
	}
	for _, want := range job.RequiredCapabilities {
		if !hasCapability(bid.Capabilities, want) {
			return 0
		}
		if ctx.CapabilityOK != nil && !ctx.CapabilityOK(bid, want) {
			return 0
		}
	}
	if ctx.AvailabilityOK != nil && !ctx.AvailabilityOK(bid) {
		return 0
	}
	var reputation int64
	if ctx.Reputation != nil {
		reputation = ctx.Reputation(bid.Executor)
	}
	if job.MinReputation != nil && reputation < *job.MinReputation {
		return 0
	}
	if job.TrustScope != "" && bid.TrustScope != job.TrustScope {
		return 0
	}

	resourceMatch, ok := resourceMatchScore(job.RequiredResources, bid.Resources)
	if !ok {
		return 0
	}

	var latency float64 = 1
	if ctx.LatencyMillis != nil {
		if v := ctx.LatencyMillis(bid.Executor); v > 0 {
			latency = v
		}
	}

	score := 0.0
	if bid.PriceMana > 0 {
		score += policy.WeightPrice / float64(bid.PriceMana)
	}
	score += policy.WeightReputation * float64(reputation)
	score += policy.WeightResources * resourceMatch
	score += policy.WeightLatency / latency

	if score < 0 {
		score = 0
	}
	return int64(score)
}

func resourceMatchScore(required, offered ResourceSpec) (float64, bool) {
	if offered.CPU < required.CPU || offered.MemMB < required.MemMB {
		return 0, false
	}
	cpuRatio := 1.0
	if required.CPU > 0 {
		cpuRatio = offered.CPU / required.CPU
	}
	memRatio := 1.0
	if required.MemMB > 0 {
		memRatio = offered.MemMB / required.MemMB
	}
	score := (cpuRatio + memRatio) / 2
	if cpuRatio > 2 || memRatio > 2 {
		score += 0.1
	}
	return score, true
}

func hasCapability(have []string, want string) bool {
	for _, c := range have {
		if c == want {
			return true
		}
	}
	return false
}

func inAny(federations, allowed []string) bool {
	for _, f := range federations {
		for _, a := range allowed {
			if f == a {
				return true
			}
		}
	}
	return false
}

// SelectWinner picks the highest-scoring bid, breaking ties by
// lexicographically lower bid id. It returns ok=false when no bid
// scores above 0.
func SelectWinner(job Job, bids []Bid, policy SelectionPolicy, ctx BidContext) (Bid, int64, bool) {
	var best Bid
	var bestScore int64 = -1
	found := false
	for _, b := range bids {
		s := ScoreBid(job, b, policy, ctx)
		if s <= 0 {
			continue
		}
		if !found || s > bestScore || (s == bestScore && strings.Compare(b.BidID, best.BidID) < 0) {
			best = b
			bestScore = s
			found = true
		}
	}
	return best, bestScore, found
}
