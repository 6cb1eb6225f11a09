package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func sampleReturns() [][]float64 {
	out := make([][]float64, 40)
	for t := range out {
		x := float64(t)
		out[t] = []float64{
			0.01 * math.Sin(0.9*x),
			0.006*math.Sin(0.9*x) + 0.004*math.Cos(1.7*x),
			0.012 * math.Cos(0.4*x+1),
		}
	}
	return out
}

func TestFromReturns_ShrinksOffDiagonalOnly(t *testing.T) {
	rb := NewRiskModelBuilder(zerolog.Nop())
	returns := sampleReturns()

	est, err := rb.FromReturns(returns, nil)
	require.NoError(t, err)
	assert.Equal(t, 40, est.SampleSize)
	assert.GreaterOrEqual(t, est.Shrinkage, 0.0)
	assert.LessOrEqual(t, est.Shrinkage, 1.0)

	col := func(j int) []float64 {
		out := make([]float64, len(returns))
		for t := range returns {
			out[t] = returns[t][j]
		}
		return out
	}
	for i := 0; i < 3; i++ {
		assert.InDelta(t, stat.Variance(col(i), nil), est.Matrix[i][i], 1e-15)
		for j := 0; j < 3; j++ {
			assert.Equal(t, est.Matrix[i][j], est.Matrix[j][i])
		}
	}
	sampleCov := stat.Covariance(col(0), col(1), nil)
	assert.InDelta(t, (1-est.Shrinkage)*sampleCov, est.Matrix[0][1], 1e-15)
}

func TestFromReturns_Override(t *testing.T) {
	rb := NewRiskModelBuilder(zerolog.Nop())
	est, err := rb.FromReturns(sampleReturns(), floatPtr(1))
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.Shrinkage)
	assert.Equal(t, 0.0, est.Matrix[0][1])
}

func TestFromReturns_Failures(t *testing.T) {
	rb := NewRiskModelBuilder(zerolog.Nop())

	_, err := rb.FromReturns([][]float64{{0.01, 0.02}}, nil)
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))

	_, err = rb.FromReturns([][]float64{{0.01, 0.02}, {0.01}}, nil)
	assert.True(t, errors.Is(err, quanterr.ErrAlignment))
}

func TestShrink_SampleSizeIntensity(t *testing.T) {
	rb := NewRiskModelBuilder(zerolog.Nop())
	cov := [][]float64{{0.04, 0.01}, {0.01, 0.09}}

	est, err := rb.Shrink(cov, 10, nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, est.Shrinkage, 1e-12)
	assert.InDelta(t, 0.008, est.Matrix[0][1], 1e-12)
	assert.Equal(t, 0.04, est.Matrix[0][0])

	est, err = rb.Shrink(cov, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, est.Shrinkage)

	_, err = rb.Shrink([][]float64{{0.04, 0.01}, {0.02, 0.09}}, 0, nil)
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}

func TestLedoitWolfIntensity_UncorrelatedNoiseShrinksHard(t *testing.T) {
	// Sample correlation between independent series is pure estimation noise.
	returns := make([][]float64, 12)
	for t := range returns {
		x := float64(t)
		returns[t] = []float64{math.Sin(3.1 * x), math.Cos(2.3*x + 0.5)}
	}
	rb := NewRiskModelBuilder(zerolog.Nop())
	est, err := rb.FromReturns(returns, nil)
	require.NoError(t, err)
	assert.Greater(t, est.Shrinkage, 0.05)
}
