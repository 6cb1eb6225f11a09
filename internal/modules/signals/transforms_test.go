package signals

import (
	"math"
	"math/rand"
	"testing"

	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomCrossSection(rng *rand.Rand, n int) []float64 {
	cs := make([]float64, n)
	for i := range cs {
		cs[i] = rng.NormFloat64() * math.Exp(rng.Float64()*3)
		if rng.Float64() < 0.1 {
			cs[i] = math.NaN()
		}
	}
	return cs
}

func TestWinsorize_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		cs := randomCrossSection(rng, 5+rng.Intn(60))
		p := rng.Float64() * 0.49

		once := Winsorize(cs, p)
		twice := Winsorize(once, p)

		for i := range once {
			if math.IsNaN(once[i]) {
				assert.True(t, math.IsNaN(twice[i]))
				continue
			}
			require.Equal(t, once[i], twice[i], "trial %d p=%.3f index %d", trial, p, i)
		}
	}
}

func TestWinsorize_ClipsAndPropagatesNaN(t *testing.T) {
	cs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 1000, math.NaN()}
	out := Winsorize(cs, 0.2)

	assert.Equal(t, 2.0, out[0])
	assert.Equal(t, 2.0, out[1])
	assert.Equal(t, 3.0, out[2])
	assert.Equal(t, 9.0, out[9])
	assert.True(t, math.IsNaN(out[10]))

	assert.Equal(t, cs[:10], Winsorize(cs, 0)[:10])
}

func TestZScore_MeanZeroStdOne(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 100; trial++ {
		cs := randomCrossSection(rng, 10+rng.Intn(40))
		z := ZScore(cs)

		finite, _ := formulas.Finite(z)
		if len(finite) < 2 {
			continue
		}
		assert.InDelta(t, 0.0, formulas.Mean(finite), 1e-9)
		assert.InDelta(t, 1.0, formulas.StdDev(finite), 1e-9)
	}
}

func TestZScore_DegenerateIsZero(t *testing.T) {
	z := ZScore([]float64{4, 4, math.NaN(), 4})
	assert.Equal(t, 0.0, z[0])
	assert.True(t, math.IsNaN(z[2]))
	assert.Equal(t, 0.0, z[3])

	assert.Equal(t, []float64{0}, ZScore([]float64{9}))
}

func TestNeutralize_RemovesSectorTilt(t *testing.T) {
	sectors := []string{"tech", "tech", "tech", "energy", "energy", "energy"}
	cs := []float64{10, 11, 12, 1, 2, 3}

	out := Neutralize(cs, sectors, nil, true, false)

	assert.InDelta(t, -1, out[0], 1e-12)
	assert.InDelta(t, 0, out[1], 1e-12)
	assert.InDelta(t, 1, out[2], 1e-12)
	assert.InDelta(t, -1, out[3], 1e-12)

	dummy := []float64{1, 1, 1, 0, 0, 0}
	assert.InDelta(t, 0, formulas.Correlation(out, dummy), 1e-12)
}

func TestNeutralize_RemovesSizeTilt(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n := 40
	logCap := make([]float64, n)
	sectors := make([]string, n)
	cs := make([]float64, n)
	for i := range cs {
		logCap[i] = 20 + rng.Float64()*5
		sectors[i] = []string{"a", "b", "c"}[i%3]
		cs[i] = 0.8*logCap[i] + rng.NormFloat64()
	}
	cs[5] = math.NaN()

	sizeOnly := Neutralize(cs, sectors, logCap, false, true)
	both := Neutralize(cs, sectors, logCap, true, true)

	assert.True(t, math.IsNaN(sizeOnly[5]))
	for _, out := range [][]float64{sizeOnly, both} {
		ys, idx := formulas.Finite(out)
		xs := make([]float64, len(idx))
		for k, i := range idx {
			xs[k] = logCap[i]
		}
		assert.InDelta(t, 0, formulas.Correlation(xs, ys), 1e-9)
	}
}

func TestDecay(t *testing.T) {
	nan := math.NaN()
	series := [][]float64{{1, 1}, {1, nan}, {1, 2}}

	out := Decay(series, 0.5)
	assert.Equal(t, []float64{1, 1}, out[0])
	assert.Equal(t, 1.5, out[1][0])
	assert.True(t, math.IsNaN(out[1][1]))
	assert.Equal(t, 1.75, out[2][0])
	assert.Equal(t, 2.0, out[2][1])

	assert.Equal(t, series[2], Decay(series, 0)[2])
}
