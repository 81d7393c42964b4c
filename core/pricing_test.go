package core

import "testing"

func TestPriceByReputationLiteralScenarioF(t *testing.T) {
	cases := []struct {
		reputation int64
		want       float64
	}{
		{0, 100},
		{100, 50},
		{900, 10},
	}
	for _, c := range cases {
		if got := PriceByReputation(100, c.reputation); got != c.want {
			t.Errorf("PriceByReputation(100, %d) = %v, want %v", c.reputation, got, c.want)
		}
	}
}

func TestPriceByReputationMonotonicAndBounded(t *testing.T) {
	base := 100.0
	prev := PriceByReputation(base, 0)
	if prev != base {
		t.Fatalf("PriceByReputation(base, 0) = %v, want base %v", prev, base)
	}
	for _, rep := range []int64{1, 10, 50, 200, 5000} {
		got := PriceByReputation(base, rep)
		if got >= prev {
			t.Fatalf("price at reputation %d (%v) should be strictly less than previous %v", rep, got, prev)
		}
		if got < 0 {
			t.Fatalf("price at reputation %d is negative: %v", rep, got)
		}
		prev = got
	}
}

func TestPriceByReputationClampsNegativeReputation(t *testing.T) {
	if got := PriceByReputation(100, -50); got != 100 {
		t.Fatalf("PriceByReputation with negative reputation = %v, want base 100", got)
	}
}
