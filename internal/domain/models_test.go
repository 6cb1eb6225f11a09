package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeights_GrossNet(t *testing.T) {
	w := Weights{"A": 0.6, "B": -0.2, "C": 0.1}

	assert.InDelta(t, 0.9, w.Gross(), 1e-12)
	assert.InDelta(t, 0.5, w.Net(), 1e-12)
	assert.Equal(t, []string{"A", "B", "C"}, w.Symbols())
	assert.Equal(t, []float64{0.1, 0, 0.6}, w.Vector([]string{"C", "D", "A"}))
}

func TestUniverse_Duplicate(t *testing.T) {
	u := Universe{ID: "u", Instruments: []Instrument{{ID: "A"}, {ID: "B"}, {ID: "A"}}}
	assert.Equal(t, "A", u.Duplicate())

	u.Instruments = u.Instruments[:2]
	assert.Equal(t, "", u.Duplicate())
	assert.Equal(t, map[string]int{"A": 0, "B": 1}, u.Index())
}

func TestValues_NaNEncodesAsNull(t *testing.T) {
	data, err := json.Marshal(Values{1.5, math.NaN(), -2})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, null, -2]`, string(data))

	var back Values
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 3)
	assert.Equal(t, 1.5, back[0])
	assert.True(t, math.IsNaN(back[1]))
	assert.Equal(t, -2.0, back[2])
}

func TestValues_InfinityIsRejected(t *testing.T) {
	for _, inf := range []float64{math.Inf(1), math.Inf(-1)} {
		_, err := json.Marshal(Values{1, inf})
		require.Error(t, err)
		assert.ErrorContains(t, err, "values[1]")
	}

	// Nested inside a struct the whole encode fails
	_, err := json.Marshal(struct {
		Series []Values `json:"series"`
	}{Series: []Values{{0.1}, {math.Inf(1)}}})
	assert.Error(t, err)

	data, err := json.Marshal(Values(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
