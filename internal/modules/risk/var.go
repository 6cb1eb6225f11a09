package risk

import (
	"math"

	"github.com/aristath/quantcore/pkg/formulas"
	"gonum.org/v1/gonum/stat/distuv"
)

var confidences = [3]float64{Confidence95, Confidence97, Confidence99}

// ParametricVaRES returns VaR and ES of a normal return distribution
func ParametricVaRES(mu, sigma, confidence float64) (float64, float64) {
	alpha := 1 - confidence
	z := distuv.UnitNormal.Quantile(alpha)
	return mu + z*sigma, mu - sigma*distuv.UnitNormal.Prob(z)/alpha
}

// CornishFisherQuantile adjusts the standard normal quantile z for sample
// skewness s and excess kurtosis k.
func CornishFisherQuantile(z, s, k float64) float64 {
	z2 := z * z
	z3 := z2 * z
	return z + (z2-1)*s/6 + (z3-3*z)*k/24 - (2*z3-5*z)*s*s/36
}

// CornishFisherVaRES returns VaR and ES under the Cornish-Fisher expansion.
// ES averages the adjusted quantile over the tail on a fixed midpoint grid
// and is clamped so it is never less severe than VaR.
func CornishFisherVaRES(mu, sigma, skew, kurt, confidence float64) (float64, float64) {
	alpha := 1 - confidence
	varP := mu + sigma*CornishFisherQuantile(distuv.UnitNormal.Quantile(alpha), skew, kurt)

	sum := 0.0
	for j := 0; j < cfGridPoints; j++ {
		u := (float64(j) + 0.5) / cfGridPoints * alpha
		sum += CornishFisherQuantile(distuv.UnitNormal.Quantile(u), skew, kurt)
	}
	es := mu + sigma*sum/cfGridPoints
	return varP, math.Min(es, varP)
}

// HistoricalVaRES returns the empirical VaR and ES of returns. The tail holds
// the ceil((1-confidence) n) worst observations; VaR is the least severe of
// them and ES their mean.
func HistoricalVaRES(returns []float64, confidence float64) (float64, float64) {
	return formulas.HistoricalVaRES(returns, confidence)
}

func parametricTail(mu, sigma float64) TailMetrics {
	var v, e [3]float64
	for i, c := range confidences {
		v[i], e[i] = ParametricVaRES(mu, sigma, c)
	}
	return enforceTail(v, e)
}

func cornishFisherTail(mu, sigma, skew, kurt float64) TailMetrics {
	var v, e [3]float64
	for i, c := range confidences {
		v[i], e[i] = CornishFisherVaRES(mu, sigma, skew, kurt, c)
	}
	return enforceTail(v, e)
}

func historicalTail(returns []float64) TailMetrics {
	var v, e [3]float64
	for i, c := range confidences {
		v[i], e[i] = HistoricalVaRES(returns, c)
	}
	return enforceTail(v, e)
}

// enforceTail reports each tail figure as a loss, so a quantile in the gain
// region becomes zero, then applies ES <= VaR at each level and makes both
// figures non-increasing in confidence. On non-positive values these signed
// minimums are the loss-magnitude invariants, and every adjustment tightens.
func enforceTail(v, e [3]float64) TailMetrics {
	for i := range v {
		v[i] = math.Min(v[i], 0)
		e[i] = math.Min(e[i], 0)
		if i > 0 {
			v[i] = math.Min(v[i], v[i-1])
			e[i] = math.Min(e[i], e[i-1])
		}
		e[i] = math.Min(e[i], v[i])
	}
	return TailMetrics{
		VaR95: v[0], VaR97: v[1], VaR99: v[2],
		ES95: e[0], ES97: e[1], ES99: e[2],
	}
}
