package formulas

import (
	"math"
	"sort"
)

// TailCount returns the number of observations in the (1-confidence) tail of
// an n-point sample, never fewer than one.
func TailCount(n int, confidence float64) int {
	if n == 0 {
		return 0
	}
	// The epsilon absorbs representation error in 1-confidence (1-0.95 > 0.05).
	k := int(math.Ceil(float64(n)*(1.0-confidence) - 1e-9))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// HistoricalVaRES computes historical Value at Risk and Expected Shortfall.
// Both are signed returns: VaR is the worst return still inside the tail and
// ES is the mean of all tail returns, so ES <= VaR always holds.
func HistoricalVaRES(returns []float64, confidence float64) (float64, float64) {
	finite, _ := Finite(returns)
	if len(finite) == 0 {
		return 0, 0
	}

	sorted := make([]float64, len(finite))
	copy(sorted, finite)
	sort.Float64s(sorted)

	k := TailCount(len(sorted), confidence)
	tail := sorted[:k]

	sum := 0.0
	for _, r := range tail {
		sum += r
	}
	return tail[k-1], sum / float64(k)
}
