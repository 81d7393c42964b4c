package core

import (
	"math"
	"sort"
	"sync"
)

// GiniCoefficient computes the Gini inequality measure over a balance
// distribution: G = 2*sum(i*b_i)/(n*sum(b_i)) - (n+1)/n, balances
// sorted ascending, i 1-indexed. A uniform distribution yields 0.
func GiniCoefficient(balances []uint64) float64 {
	n := len(balances)
	if n == 0 {
		return 0
	}
	sorted := append([]uint64(nil), balances...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	var weighted float64
	for i, b := range sorted {
		sum += float64(b)
		weighted += float64(i+1) * float64(b)
	}
	if sum == 0 {
		return 0
	}
	return 2*weighted/(float64(n)*sum) - float64(n+1)/float64(n)
}

// HealthThreshold is the overall_health floor at or below which the
// engine flags an EconomicInequality alarm.
const HealthThreshold = 0.2

// HealthSample is one tick of the health-history ring buffer,
// supplementing the core health check with a short trend window used
// to distinguish a momentary dip from a sustained decline.
type HealthSample struct {
	OverallHealth float64
	Gini          float64
}

// HealthMonitor computes Gini-based economic health and keeps a
// bounded rolling history for trend inspection.
type HealthMonitor struct {
	mu      sync.Mutex
	history []HealthSample
	maxLen  int
}

// NewHealthMonitor returns a monitor retaining the last maxLen samples.
func NewHealthMonitor(maxLen int) *HealthMonitor {
	if maxLen <= 0 {
		maxLen = 60
	}
	return &HealthMonitor{maxLen: maxLen}
}

// Observe computes health from balances, appends it to the rolling
// history, and reports whether the alarm threshold was crossed.
func (h *HealthMonitor) Observe(balances []uint64) (sample HealthSample, alarm bool) {
	g := GiniCoefficient(balances)
	// Rounded to 12 decimal places so exact fractions (Gini 0.8, health
	// 0.2) are reported and compared exactly.
	health := math.Round((1-g)*1e12) / 1e12
	sample = HealthSample{OverallHealth: health, Gini: g}

	h.mu.Lock()
	h.history = append(h.history, sample)
	if len(h.history) > h.maxLen {
		h.history = h.history[len(h.history)-h.maxLen:]
	}
	h.mu.Unlock()

	return sample, sample.OverallHealth <= HealthThreshold
}

// History returns a snapshot copy of the rolling health samples.
func (h *HealthMonitor) History() []HealthSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HealthSample, len(h.history))
	copy(out, h.history)
	return out
}

// AnomalyDetector scores observations against their running mean and
// variance (Welford's online algorithm), flagging values whose
// z-score exceeds a threshold as potential market manipulation.
type AnomalyDetector struct {
	mu    sync.Mutex
	n     uint64
	mean  float64
	m2    float64
}

// NewAnomalyDetector returns a detector with no observations yet.
func NewAnomalyDetector() *AnomalyDetector { return &AnomalyDetector{} }

// Update folds x into the running statistics and returns its z-score
// against the statistics observed before x (0 for the first sample).
func (a *AnomalyDetector) Update(x float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var z float64
	if a.n > 0 {
		variance := a.m2 / float64(a.n)
		if variance > 0 {
			z = (x - a.mean) / math.Sqrt(variance)
		}
	}

	a.n++
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	delta2 := x - a.mean
	a.m2 += delta * delta2

	return z
}

// AnomalyThreshold is the z-score above which a balance change is
// treated as excessive consumption by policy enforcement.
const AnomalyThreshold = 3.0
