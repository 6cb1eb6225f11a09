package signals

import (
	"math"

	"github.com/aristath/quantcore/pkg/formulas"
	"gonum.org/v1/gonum/stat"
)

// Winsorize clips a cross-section to its [p, 1-p] percentile band.
// NaN values are excluded from the band and stay NaN. p = 0 is a no-op.
func Winsorize(cs []float64, p float64) []float64 {
	out := make([]float64, len(cs))
	copy(out, cs)
	if p <= 0 {
		return out
	}
	lo, hi, ok := formulas.WinsorBounds(cs, p)
	if !ok {
		return out
	}
	for i, v := range out {
		if math.IsNaN(v) {
			continue
		}
		if v < lo {
			out[i] = lo
		} else if v > hi {
			out[i] = hi
		}
	}
	return out
}

// ZScore standardizes a cross-section with its mean and sample standard
// deviation. A degenerate cross-section (zero deviation or a single finite
// value) maps every finite value to 0.
func ZScore(cs []float64) []float64 {
	out := make([]float64, len(cs))
	finite, _ := formulas.Finite(cs)
	mean := formulas.Mean(finite)
	sd := formulas.StdDev(finite)
	for i, v := range cs {
		switch {
		case math.IsNaN(v):
			out[i] = math.NaN()
		case sd == 0 || math.IsNaN(sd):
			out[i] = 0
		default:
			out[i] = (v - mean) / sd
		}
	}
	return out
}

// Neutralize returns the residuals of an OLS regression of the cross-section
// on sector dummies and/or log market cap. Rows with a missing regressor are
// NaN. The joint regression is solved by first demeaning within sectors and
// then regressing the demeaned factor on the demeaned log cap.
func Neutralize(cs []float64, sectors []string, logCap []float64, bySector, bySize bool) []float64 {
	out := make([]float64, len(cs))
	copy(out, cs)
	if !bySector && !bySize {
		return out
	}

	rows := make([]int, 0, len(cs))
	for i, v := range cs {
		if math.IsNaN(v) || (bySize && math.IsNaN(logCap[i])) {
			out[i] = math.NaN()
			continue
		}
		rows = append(rows, i)
	}
	if len(rows) == 0 {
		return out
	}

	y := make([]float64, len(rows))
	x := make([]float64, len(rows))
	for k, i := range rows {
		y[k] = cs[i]
		if bySize {
			x[k] = logCap[i]
		}
	}

	if bySector {
		groups := make([]string, len(rows))
		for k, i := range rows {
			groups[k] = sectors[i]
		}
		y = demeanWithin(y, groups)
		if bySize {
			x = demeanWithin(x, groups)
		}
	}

	if bySize && formulas.Variance(x) > 0 {
		// After sector demeaning the intercept is absorbed, so fit through the origin.
		alpha, beta := stat.LinearRegression(x, y, nil, bySector)
		for k := range y {
			y[k] -= alpha + beta*x[k]
		}
	} else if bySize && !bySector {
		mean := formulas.Mean(y)
		for k := range y {
			y[k] -= mean
		}
	}

	for k, i := range rows {
		out[i] = y[k]
	}
	return out
}

func demeanWithin(values []float64, groups []string) []float64 {
	sum := make(map[string]float64)
	count := make(map[string]float64)
	for k, g := range groups {
		sum[g] += values[k]
		count[g]++
	}
	out := make([]float64, len(values))
	for k, g := range groups {
		out[k] = values[k] - sum[g]/count[g]
	}
	return out
}

// Decay applies d[t] = raw[t] + decay*d[t-1] per instrument over a
// date-major matrix. A missing raw value yields NaN and restarts the chain.
func Decay(series [][]float64, decay float64) [][]float64 {
	out := make([][]float64, len(series))
	for t := range series {
		row := make([]float64, len(series[t]))
		for i, v := range series[t] {
			switch {
			case math.IsNaN(v):
				row[i] = math.NaN()
			case decay == 0 || t == 0 || math.IsNaN(out[t-1][i]):
				row[i] = v
			default:
				row[i] = v + decay*out[t-1][i]
			}
		}
		out[t] = row
	}
	return out
}
