package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// RateOfChange returns the fractional change over period for every index.
// Indices inside the warm-up window, or whose current or lagged price is
// missing, are NaN. So is a change from a zero base. Gaps inside the series are forward-filled for go-talib.
func RateOfChange(prices []float64, period int) []float64 {
	out := nanSeries(len(prices))
	filled, first := fillForTalib(prices)
	if first < 0 || period < 1 || len(prices)-first <= period {
		return out
	}

	roc := talib.Roc(filled, period)
	for t := first + period; t < len(prices); t++ {
		if math.IsNaN(prices[t]) || math.IsNaN(prices[t-period]) || prices[t-period] == 0 {
			continue
		}
		out[t] = roc[t] / 100
	}
	return out
}

// RollingStdDev returns the population standard deviation over a trailing
// window. Windows that reach before the first observation are NaN.
func RollingStdDev(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	filled, first := fillForTalib(values)
	if first < 0 || period < 2 || len(values)-first < period {
		return out
	}

	sd := talib.StdDev(filled[first:], period, 1.0)
	for k := period - 1; k < len(sd); k++ {
		t := first + k
		if !math.IsNaN(values[t]) {
			out[t] = sd[k]
		}
	}
	return out
}

// RollingMean returns the simple moving average over a trailing window
func RollingMean(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	filled, first := fillForTalib(values)
	if first < 0 || period < 1 || len(values)-first < period {
		return out
	}

	sma := talib.Sma(filled[first:], period)
	for k := period - 1; k < len(sma); k++ {
		out[first+k] = sma[k]
	}
	return out
}

// fillForTalib forward-fills NaNs and reports the first finite index (-1 if none).
// Leading NaNs are replaced with the first finite value.
func fillForTalib(values []float64) ([]float64, int) {
	filled := make([]float64, len(values))
	first := -1
	last := math.NaN()
	for t, v := range values {
		if !math.IsNaN(v) {
			if first < 0 {
				first = t
			}
			last = v
		}
		filled[t] = last
	}
	if first < 0 {
		return filled, -1
	}
	for t := 0; t < first; t++ {
		filled[t] = values[first]
	}
	return filled, first
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
