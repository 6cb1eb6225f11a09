package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/rs/zerolog"
)

// DefaultLookbackDays is one year of trading days
const DefaultLookbackDays = 252

// CovarianceEstimate is a shrunk covariance matrix with its provenance
type CovarianceEstimate struct {
	Matrix     [][]float64 `json:"matrix" yaml:"matrix" msgpack:"matrix"`
	Shrinkage  float64     `json:"shrinkage" yaml:"shrinkage" msgpack:"shrinkage"`
	SampleSize int         `json:"sample_size" yaml:"sample_size" msgpack:"sample_size"`
}

// RiskModelBuilder builds covariance matrices for optimization.
type RiskModelBuilder struct {
	log zerolog.Logger
}

// NewRiskModelBuilder creates a new risk model builder
func NewRiskModelBuilder(log zerolog.Logger) *RiskModelBuilder {
	return &RiskModelBuilder{
		log: log.With().Str("component", "risk_model").Logger(),
	}
}

// ReturnsFromPanel computes date-major daily close-to-close returns over the
// trailing lookback window. Missing prices are forward then back filled.
func (rb *RiskModelBuilder) ReturnsFromPanel(p *panel.Panel, lookback int) ([][]float64, error) {
	const op = "covariance"

	if !p.Has(panel.FieldClose) {
		return nil, quanterr.Configuration(op, "panel has no %s field", panel.FieldClose)
	}
	start := 0
	if lookback > 0 && p.NumDates() > lookback+1 {
		start = p.NumDates() - lookback - 1
	}

	series := make([][]float64, len(p.Instruments))
	for i := range p.Instruments {
		prices := rb.handleMissingData(p.Series(panel.FieldClose, i)[start:])
		series[i] = formulas.CalculateReturns(prices)
	}
	if len(series) == 0 || len(series[0]) < 2 {
		return nil, quanterr.DataGap(op, "need at least 3 prices to estimate covariance")
	}

	T := len(series[0])
	out := make([][]float64, T)
	for t := 0; t < T; t++ {
		row := make([]float64, len(series))
		for i := range series {
			if r := series[i][t]; !math.IsNaN(r) {
				row[i] = r
			}
		}
		out[t] = row
	}
	return out, nil
}

// handleMissingData forward-fills NaN prices, back-filling a leading gap
func (rb *RiskModelBuilder) handleMissingData(prices []float64) []float64 {
	missing := 0
	for _, v := range prices {
		if math.IsNaN(v) {
			missing++
		}
	}
	if missing > 0 {
		rb.log.Warn().Int("missing_data_points", missing).Msg("Filled missing price data")
	}
	return panel.ForwardFill(prices)
}

// FromPanel estimates a shrunk covariance from panel close prices
func (rb *RiskModelBuilder) FromPanel(p *panel.Panel, lookback int) (*CovarianceEstimate, error) {
	returns, err := rb.ReturnsFromPanel(p, lookback)
	if err != nil {
		return nil, err
	}
	return rb.FromReturns(returns, nil)
}

// FromValues accepts wire-format returns where NaN marks a gap
func (rb *RiskModelBuilder) FromValues(returns []domain.Values, override *float64) (*CovarianceEstimate, error) {
	rows := make([][]float64, len(returns))
	for t, r := range returns {
		row := make([]float64, len(r))
		for i, v := range r {
			if !math.IsNaN(v) {
				row[i] = v
			}
		}
		rows[t] = row
	}
	return rb.FromReturns(rows, override)
}

// FromReturns estimates the sample covariance of date-major returns and
// applies Ledoit-Wolf shrinkage toward its diagonal.
func (rb *RiskModelBuilder) FromReturns(returns [][]float64, override *float64) (*CovarianceEstimate, error) {
	const op = "covariance"

	T := len(returns)
	if T < 2 {
		return nil, quanterr.DataGap(op, "need at least 2 return observations, got %d", T)
	}
	n := len(returns[0])
	data := mat.NewDense(T, n, nil)
	for t, row := range returns {
		if len(row) != n {
			return nil, quanterr.Alignment(op, "return row %d has %d instruments, expected %d", t, len(row), n)
		}
		data.SetRow(t, row)
	}

	var sample mat.SymDense
	stat.CovarianceMatrix(&sample, data, nil)

	delta := ledoitWolfIntensity(data)
	if override != nil {
		delta = clamp01(*override)
	}
	est := &CovarianceEstimate{
		Matrix:     shrinkToDiagonal(symToRows(&sample), delta),
		Shrinkage:  delta,
		SampleSize: T,
	}

	rb.log.Debug().
		Int("instruments", n).
		Int("observations", T).
		Float64("shrinkage", delta).
		Msg("Estimated covariance matrix")
	return est, nil
}

// Shrink applies shrinkage to a caller-supplied covariance. Without an
// override the intensity is n/T, or 0 when the sample size is unknown.
func (rb *RiskModelBuilder) Shrink(cov [][]float64, sampleSize int, override *float64) (*CovarianceEstimate, error) {
	const op = "covariance"

	n := len(cov)
	for i, row := range cov {
		if len(row) != n {
			return nil, quanterr.Alignment(op, "covariance row %d has %d columns, expected %d", i, len(row), n)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, quanterr.Configuration(op, "covariance entry (%d,%d) is not finite", i, j)
			}
			if math.Abs(v-cov[j][i]) > 1e-12*math.Max(1, math.Abs(v)) {
				return nil, quanterr.Configuration(op, "covariance is not symmetric at (%d,%d)", i, j)
			}
		}
		if row[i] < 0 {
			return nil, quanterr.Configuration(op, "negative variance at %d", i)
		}
	}

	delta := 0.0
	if sampleSize > 0 {
		delta = clamp01(float64(n) / float64(sampleSize))
	}
	if override != nil {
		delta = clamp01(*override)
	}
	return &CovarianceEstimate{
		Matrix:     shrinkToDiagonal(cov, delta),
		Shrinkage:  delta,
		SampleSize: sampleSize,
	}, nil
}

// ledoitWolfIntensity is the optimal shrinkage toward the diagonal target:
// (pi - rho) / (T gamma), clamped to [0, 1].
func ledoitWolfIntensity(data *mat.Dense) float64 {
	T, n := data.Dims()
	x := mat.DenseCopyOf(data)
	for j := 0; j < n; j++ {
		col := mat.Col(nil, j, x)
		m := stat.Mean(col, nil)
		for t := 0; t < T; t++ {
			x.Set(t, j, col[t]-m)
		}
	}

	s := make([][]float64, n)
	for i := range s {
		s[i] = make([]float64, n)
	}
	for t := 0; t < T; t++ {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				s[i][j] += x.At(t, i) * x.At(t, j) / float64(T)
			}
		}
	}

	pi, rho, gamma := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.0
			for t := 0; t < T; t++ {
				d := x.At(t, i)*x.At(t, j) - s[i][j]
				v += d * d
			}
			v /= float64(T)
			if i == j {
				pi += v
				rho += v
				continue
			}
			pi += 2 * v
			gamma += 2 * s[i][j] * s[i][j]
		}
	}
	if gamma <= 0 {
		return 0
	}
	return clamp01((pi - rho) / gamma / float64(T))
}

func shrinkToDiagonal(cov [][]float64, delta float64) [][]float64 {
	n := len(cov)
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				out[i][j] = cov[i][j]
			} else {
				out[i][j] = (1 - delta) * cov[i][j]
			}
		}
	}
	return out
}

func symToRows(m mat.Symmetric) [][]float64 {
	n := m.SymmetricDim()
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// toSymDense converts rows to a symmetric matrix, adding ridge to the diagonal
func toSymDense(cov [][]float64, ridge float64) *mat.SymDense {
	n := len(cov)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (cov[i][j] + cov[j][i]) / 2
			if i == j {
				v += ridge
			}
			s.SetSym(i, j, v)
		}
	}
	return s
}

// ridgeFor is a small diagonal load that keeps degenerate covariances invertible
func ridgeFor(cov [][]float64) float64 {
	trace := 0.0
	for i := range cov {
		trace += cov[i][i]
	}
	if len(cov) == 0 || trace <= 0 {
		return 1e-8
	}
	return 1e-8 * trace / float64(len(cov))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
