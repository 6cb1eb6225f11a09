package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWinsorBounds(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100}
	lo, hi, ok := WinsorBounds(values, 0.1)
	require.True(t, ok)
	assert.Equal(t, 1.0, lo)
	assert.Equal(t, 100.0, hi)

	lo, hi, ok = WinsorBounds(values, 0.2)
	require.True(t, ok)
	assert.Equal(t, 2.0, lo)
	assert.Equal(t, 9.0, hi)

	_, _, ok = WinsorBounds([]float64{math.NaN()}, 0.1)
	assert.False(t, ok)
}

func TestRanks_TiesAndNaN(t *testing.T) {
	ranks := Ranks([]float64{3, 1, math.NaN(), 3, 2})

	assert.InDelta(t, 2.5/3, ranks[0], 1e-12)
	assert.InDelta(t, 0.0, ranks[1], 1e-12)
	assert.True(t, math.IsNaN(ranks[2]))
	assert.InDelta(t, 2.5/3, ranks[3], 1e-12)
	assert.InDelta(t, 1.0/3, ranks[4], 1e-12)
}

func TestHerfindahl(t *testing.T) {
	assert.InDelta(t, 1.0/3, Herfindahl([]float64{1, 1, 1}), 1e-12)
	assert.InDelta(t, 1.0, Herfindahl([]float64{0, -2, 0}), 1e-12)
	assert.Equal(t, 0.0, Herfindahl([]float64{0, 0}))
}
