package formulas

import (
	"math"
	"sort"
)

// WinsorBounds returns the [p, 1-p] clipping band of the finite values.
// Bounds are order statistics at symmetric ranks, so clipping to them and
// recomputing the band on the clipped data reproduces the same band.
func WinsorBounds(values []float64, p float64) (float64, float64, bool) {
	finite, _ := Finite(values)
	if len(finite) == 0 {
		return 0, 0, false
	}
	sorted := make([]float64, len(finite))
	copy(sorted, finite)
	sort.Float64s(sorted)

	n := len(sorted)
	lower := int(math.Floor(float64(n-1)*p + 1e-9))
	upper := n - 1 - lower
	if lower > upper {
		lower, upper = upper, lower
	}
	return sorted[lower], sorted[upper], true
}

// Ranks returns average ranks (0-based, ties averaged) normalized to [0,1].
// NaN inputs receive NaN ranks.
func Ranks(values []float64) []float64 {
	out := make([]float64, len(values))
	finite, idx := Finite(values)
	for i := range out {
		out[i] = math.NaN()
	}
	n := len(finite)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[idx[0]] = 0.5
		return out
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return finite[order[a]] < finite[order[b]] })

	for start := 0; start < n; {
		end := start
		for end+1 < n && finite[order[end+1]] == finite[order[start]] {
			end++
		}
		avg := float64(start+end) / 2
		for k := start; k <= end; k++ {
			out[idx[order[k]]] = avg / float64(n-1)
		}
		start = end + 1
	}
	return out
}

// Herfindahl returns the sum of squared shares of |values| (NaN ignored).
// A zero-magnitude vector returns 0.
func Herfindahl(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		if !math.IsNaN(v) {
			total += math.Abs(v)
		}
	}
	if total == 0 {
		return 0
	}
	hhi := 0.0
	for _, v := range values {
		if !math.IsNaN(v) {
			s := math.Abs(v) / total
			hhi += s * s
		}
	}
	return hhi
}
