package signals

import (
	"math"

	"github.com/aristath/quantcore/pkg/formulas"
)

// Diagnostics summarize the combined signal over all dates
type Diagnostics struct {
	Mean          float64  `json:"mean" yaml:"mean" msgpack:"mean"`
	Std           float64  `json:"std" yaml:"std" msgpack:"std"`
	Skewness      float64  `json:"skewness" yaml:"skewness" msgpack:"skewness"`
	Kurtosis      float64  `json:"kurtosis" yaml:"kurtosis" msgpack:"kurtosis"`
	IC            *float64 `json:"ic,omitempty" yaml:"ic,omitempty" msgpack:"ic,omitempty"`
	Turnover      float64  `json:"turnover" yaml:"turnover" msgpack:"turnover"`
	Concentration float64  `json:"concentration" yaml:"concentration" msgpack:"concentration"`
	Coverage      float64  `json:"coverage" yaml:"coverage" msgpack:"coverage"`
}

func computeDiagnostics(combined [][]float64, forward [][]float64) Diagnostics {
	pooled := make([]float64, 0)
	total := 0
	for _, row := range combined {
		finite, _ := formulas.Finite(row)
		pooled = append(pooled, finite...)
		total += len(row)
	}

	d := Diagnostics{
		Mean:     formulas.Mean(pooled),
		Std:      formulas.StdDev(pooled),
		Skewness: formulas.Skewness(pooled),
		Kurtosis: formulas.ExcessKurtosis(pooled),
	}
	if total > 0 {
		d.Coverage = float64(len(pooled)) / float64(total)
	}

	if forward != nil {
		ic := informationCoefficient(combined, forward)
		d.IC = &ic
	}
	d.Turnover = rankTurnover(combined)
	d.Concentration = concentration(combined)
	return d
}

// informationCoefficient is the mean per-date Pearson correlation between
// the signal and forward returns, over dates with at least three pairs.
func informationCoefficient(combined, forward [][]float64) float64 {
	sum, n := 0.0, 0
	for t := range combined {
		var xs, ys []float64
		for i, s := range combined[t] {
			r := forward[t][i]
			if math.IsNaN(s) || math.IsNaN(r) {
				continue
			}
			xs = append(xs, s)
			ys = append(ys, r)
		}
		if len(xs) < 3 {
			continue
		}
		sum += formulas.Correlation(xs, ys)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// rankTurnover is the mean absolute day-over-day change in normalized rank
func rankTurnover(combined [][]float64) float64 {
	sum, n := 0.0, 0
	var prev []float64
	for _, row := range combined {
		ranks := formulas.Ranks(row)
		if prev != nil {
			for i := range ranks {
				if math.IsNaN(ranks[i]) || math.IsNaN(prev[i]) {
					continue
				}
				sum += math.Abs(ranks[i] - prev[i])
				n++
			}
		}
		prev = ranks
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// concentration is the mean per-date Herfindahl index of |signal|
func concentration(combined [][]float64) float64 {
	sum, n := 0.0, 0
	for _, row := range combined {
		if finite, _ := formulas.Finite(row); len(finite) == 0 {
			continue
		}
		sum += formulas.Herfindahl(row)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
