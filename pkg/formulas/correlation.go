package formulas

import (
	"fmt"
	"math"
)

// CorrelationMatrixFromCovariance converts a covariance matrix to correlations.
// Instruments with zero variance are uncorrelated with everything else.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
		v := cov[i][i]
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
	}

	corr := make([][]float64, n)
	for i := range corr {
		corr[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		corr[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			den := math.Sqrt(cov[i][i] * cov[j][j])
			val := 0.0
			if den > 0 {
				val = math.Max(-1.0, math.Min(1.0, cov[i][j]/den))
			}
			corr[i][j] = val
			corr[j][i] = val
		}
	}
	return corr, nil
}

// CorrelationToDistance maps correlations to the metric d = sqrt(2(1 - rho))
func CorrelationToDistance(corr [][]float64) [][]float64 {
	n := len(corr)
	dist := make([][]float64, n)
	for i := 0; i < n; i++ {
		dist[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rho := math.Max(-1.0, math.Min(1.0, corr[i][j]))
			dist[i][j] = math.Sqrt(2.0 * (1.0 - rho))
		}
	}
	return dist
}
