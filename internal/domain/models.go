// Package domain provides core domain models and types shared by the quantitative core.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Instrument is a member of a universe
type Instrument struct {
	ID      string `json:"id" yaml:"id" msgpack:"id"`
	Sector  string `json:"sector" yaml:"sector" msgpack:"sector"`
	Country string `json:"country,omitempty" yaml:"country,omitempty" msgpack:"country,omitempty"`
}

// Universe is an ordered set of distinct instruments, immutable for one run
type Universe struct {
	ID          string       `json:"id" yaml:"id" msgpack:"id"`
	Instruments []Instrument `json:"instruments" yaml:"instruments" msgpack:"instruments"`
}

// IDs returns the instrument ids in universe order
func (u *Universe) IDs() []string {
	ids := make([]string, len(u.Instruments))
	for i, inst := range u.Instruments {
		ids[i] = inst.ID
	}
	return ids
}

// SectorOf returns the sector for every instrument id
func (u *Universe) SectorOf() map[string]string {
	sectors := make(map[string]string, len(u.Instruments))
	for _, inst := range u.Instruments {
		sectors[inst.ID] = inst.Sector
	}
	return sectors
}

// Index returns the position of every instrument id
func (u *Universe) Index() map[string]int {
	idx := make(map[string]int, len(u.Instruments))
	for i, inst := range u.Instruments {
		idx[inst.ID] = i
	}
	return idx
}

// Duplicate returns the first repeated instrument id, or "" if all are distinct
func (u *Universe) Duplicate() string {
	seen := make(map[string]bool, len(u.Instruments))
	for _, inst := range u.Instruments {
		if seen[inst.ID] {
			return inst.ID
		}
		seen[inst.ID] = true
	}
	return ""
}

// Weights maps instrument id to signed weight as a fraction of NAV
type Weights map[string]float64

// Gross returns the sum of absolute weights
func (w Weights) Gross() float64 {
	total := 0.0
	for _, v := range w {
		total += math.Abs(v)
	}
	return total
}

// Net returns the signed sum of weights
func (w Weights) Net() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Symbols returns the instrument ids in sorted order
func (w Weights) Symbols() []string {
	symbols := make([]string, 0, len(w))
	for s := range w {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Vector returns the weights in the given instrument order (missing = 0)
func (w Weights) Vector(ids []string) []float64 {
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = w[id]
	}
	return out
}

// WeightsFromVector builds Weights from an ordered vector
func WeightsFromVector(ids []string, vec []float64) Weights {
	w := make(Weights, len(ids))
	for i, id := range ids {
		w[id] = vec[i]
	}
	return w
}

// Values is a numeric series in which NaN marks a missing observation.
// JSON has no NaN, so NaN is encoded as null and null decodes to NaN.
// Infinities have no lossless encoding and are rejected.
type Values []float64

// MarshalJSON implements json.Marshaler
func (v Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	out := make([]*float64, len(v))
	for i := range v {
		switch {
		case math.IsInf(v[i], 0):
			return nil, fmt.Errorf("values[%d] is %v: JSON cannot encode infinities", i, v[i])
		case !math.IsNaN(v[i]):
			x := v[i]
			out[i] = &x
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Values) UnmarshalJSON(data []byte) error {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*v = nil
		return nil
	}
	out := make(Values, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *p
		}
	}
	*v = out
	return nil
}
