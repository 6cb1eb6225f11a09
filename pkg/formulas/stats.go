// Package formulas holds the shared statistics used across the quantitative core.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization base for daily series
const TradingDaysPerYear = 252.0

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// Skewness returns the sample skewness, 0 for degenerate input
func Skewness(data []float64) float64 {
	if len(data) < 3 || StdDev(data) == 0 {
		return 0
	}
	return stat.Skew(data, nil)
}

// ExcessKurtosis returns the sample excess kurtosis, 0 for degenerate input
func ExcessKurtosis(data []float64) float64 {
	if len(data) < 4 || StdDev(data) == 0 {
		return 0
	}
	return stat.ExKurtosis(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from daily returns
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return StdDev(dailyReturns) * math.Sqrt(TradingDaysPerYear)
}

// CalculateReturns converts prices to simple returns.
// A return touching a non-finite or zero price is NaN.
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev, cur := prices[i-1], prices[i]
		if prev == 0 || math.IsNaN(prev) || math.IsNaN(cur) {
			returns[i-1] = math.NaN()
			continue
		}
		returns[i-1] = (cur - prev) / prev
	}
	return returns
}

// Correlation calculates the Pearson correlation between two datasets.
// Returns 0 when either side has no variance.
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	if StdDev(x) == 0 || StdDev(y) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// Covariance calculates the sample covariance between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// CalculateAnnualReturn compounds daily returns and annualizes them.
// Fewer than three observations return the plain cumulative return.
func CalculateAnnualReturn(returns []float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}

	n := float64(len(returns))
	if n < 3 || cumulative <= 0 {
		return cumulative - 1
	}
	return math.Pow(cumulative, TradingDaysPerYear/n) - 1
}

// MaxDrawdown returns the largest peak-to-trough decline of an equity curve
// as a negative fraction (0 when the curve never declines).
func MaxDrawdown(equity []float64) float64 {
	peak := math.Inf(-1)
	worst := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := v/peak - 1; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// Finite returns the finite values of data and their indices
func Finite(data []float64) ([]float64, []int) {
	values := make([]float64, 0, len(data))
	idx := make([]int, 0, len(data))
	for i, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
			idx = append(idx, i)
		}
	}
	return values, idx
}
