package signals

import (
	"math"

	"github.com/aristath/quantcore/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// combineWeighted averages factor scores with relative weights. Factors
// missing for an instrument are skipped and the remaining weights
// renormalized; an instrument with no factor value stays NaN.
func combineWeighted(scores [][][]float64, weights []float64) [][]float64 {
	dates := len(scores[0])
	out := make([][]float64, dates)
	for t := 0; t < dates; t++ {
		n := len(scores[0][t])
		row := make([]float64, n)
		for i := 0; i < n; i++ {
			sum, norm := 0.0, 0.0
			for f := range scores {
				v := scores[f][t][i]
				if math.IsNaN(v) || weights[f] == 0 {
					continue
				}
				sum += weights[f] * v
				norm += math.Abs(weights[f])
			}
			if norm == 0 {
				row[i] = math.NaN()
			} else {
				row[i] = sum / norm
			}
		}
		out[t] = row
	}
	return out
}

// combinePCA projects standardized factor scores on the leading eigenvector
// of their pooled correlation matrix. The eigenvector sign is fixed so its
// loadings sum to a non-negative value. Returns the combined scores and the
// loadings.
func combinePCA(scores [][][]float64) ([][]float64, []float64) {
	nf := len(scores)
	dates := len(scores[0])

	// Pool observations where every factor is present.
	columns := make([][]float64, nf)
	for t := 0; t < dates; t++ {
		for i := range scores[0][t] {
			complete := true
			for f := 0; f < nf; f++ {
				if math.IsNaN(scores[f][t][i]) {
					complete = false
					break
				}
			}
			if !complete {
				continue
			}
			for f := 0; f < nf; f++ {
				columns[f] = append(columns[f], scores[f][t][i])
			}
		}
	}

	means := make([]float64, nf)
	sds := make([]float64, nf)
	for f := 0; f < nf; f++ {
		means[f] = formulas.Mean(columns[f])
		sds[f] = formulas.StdDev(columns[f])
	}

	loadings := leadingComponent(columns, sds)

	out := make([][]float64, dates)
	for t := 0; t < dates; t++ {
		row := make([]float64, len(scores[0][t]))
		for i := range row {
			acc := 0.0
			for f := 0; f < nf; f++ {
				v := scores[f][t][i]
				if math.IsNaN(v) {
					acc = math.NaN()
					break
				}
				if sds[f] > 0 {
					acc += loadings[f] * (v - means[f]) / sds[f]
				}
			}
			row[i] = acc
		}
		out[t] = row
	}
	return out, loadings
}

func leadingComponent(columns [][]float64, sds []float64) []float64 {
	nf := len(columns)
	loadings := make([]float64, nf)
	if nf == 1 {
		loadings[0] = 1
		return loadings
	}

	corr := mat.NewSymDense(nf, nil)
	for a := 0; a < nf; a++ {
		for b := a; b < nf; b++ {
			v := 0.0
			if sds[a] > 0 && sds[b] > 0 {
				if a == b {
					v = 1
				} else {
					v = formulas.Correlation(columns[a], columns[b])
				}
			}
			corr.SetSym(a, b, v)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(corr, true) {
		for f := range loadings {
			loadings[f] = 1 / math.Sqrt(float64(nf))
		}
		return loadings
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues are ascending; the last column is the leading component.
	lead := len(values) - 1
	sum := 0.0
	for f := 0; f < nf; f++ {
		loadings[f] = vectors.At(f, lead)
		sum += loadings[f]
	}
	if sum < 0 {
		for f := range loadings {
			loadings[f] = -loadings[f]
		}
	}
	return loadings
}
