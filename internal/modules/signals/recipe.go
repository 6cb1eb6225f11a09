// Package signals builds cross-sectional factor scores from a data panel.
package signals

import (
	"math"
	"sort"

	"github.com/aristath/quantcore/internal/quanterr"
)

// CombinationMethod selects how enabled factors merge into one score
type CombinationMethod string

const (
	// CombineWeightedSum is a weighted average of factor scores
	CombineWeightedSum CombinationMethod = "weighted_sum"
	// CombinePCA projects factor scores on their first principal component
	CombinePCA CombinationMethod = "pca"
)

// FactorConfig configures one factor
type FactorConfig struct {
	Enabled             bool    `json:"enabled" yaml:"enabled" msgpack:"enabled"`
	Weight              float64 `json:"weight" yaml:"weight" msgpack:"weight"`
	Lookback            *int    `json:"lookback,omitempty" yaml:"lookback,omitempty" msgpack:"lookback,omitempty"`
	WinsorizePercentile float64 `json:"winsorize_percentile" yaml:"winsorize_percentile" msgpack:"winsorize_percentile"`
}

// PipelineConfig selects the per-date transforms
type PipelineConfig struct {
	ZScore           bool    `json:"zscore" yaml:"zscore" msgpack:"zscore"`
	SectorNeutralize bool    `json:"sector_neutralize" yaml:"sector_neutralize" msgpack:"sector_neutralize"`
	SizeNeutralize   bool    `json:"size_neutralize" yaml:"size_neutralize" msgpack:"size_neutralize"`
	Decay            float64 `json:"decay" yaml:"decay" msgpack:"decay"`
}

// CombinationConfig selects the combination method.
// Weights, when present for a factor, override FactorConfig.Weight.
type CombinationConfig struct {
	Method  CombinationMethod  `json:"method" yaml:"method" msgpack:"method"`
	Weights map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty" msgpack:"weights,omitempty"`
}

// Recipe is a complete signal definition for one universe
type Recipe struct {
	UniverseID  string                  `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	Factors     map[string]FactorConfig `json:"factors" yaml:"factors" msgpack:"factors"`
	Pipeline    PipelineConfig          `json:"pipeline" yaml:"pipeline" msgpack:"pipeline"`
	Combination CombinationConfig       `json:"combination" yaml:"combination" msgpack:"combination"`
}

// EnabledFactors returns the enabled factor ids in sorted order
func (r *Recipe) EnabledFactors() []string {
	ids := make([]string, 0, len(r.Factors))
	for id, fc := range r.Factors {
		if fc.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FactorWeight returns the effective combination weight of a factor
func (r *Recipe) FactorWeight(id string) float64 {
	if w, ok := r.Combination.Weights[id]; ok {
		return w
	}
	return r.Factors[id].Weight
}

// Validate checks the recipe is well formed. Factor ids are resolved
// against the panel later, at compute time.
func (r *Recipe) Validate() error {
	const op = "signal recipe"

	enabled := r.EnabledFactors()
	if len(enabled) == 0 {
		return quanterr.Configuration(op, "no enabled factors")
	}
	for _, id := range enabled {
		fc := r.Factors[id]
		p := fc.WinsorizePercentile
		if math.IsNaN(p) || p < 0 || p >= 0.5 {
			return quanterr.Configuration(op, "factor %s winsorize_percentile %.4f outside [0, 0.5)", id, p)
		}
		if fc.Lookback != nil && *fc.Lookback < 1 {
			return quanterr.Configuration(op, "factor %s lookback %d must be positive", id, *fc.Lookback)
		}
		if w := r.FactorWeight(id); math.IsNaN(w) || math.IsInf(w, 0) {
			return quanterr.Configuration(op, "factor %s weight is not finite", id)
		}
	}
	for id := range r.Combination.Weights {
		if _, ok := r.Factors[id]; !ok {
			return quanterr.Configuration(op, "combination weight for undeclared factor %s", id)
		}
	}

	d := r.Pipeline.Decay
	if math.IsNaN(d) || d < 0 || d >= 1 {
		return quanterr.Configuration(op, "decay %.4f outside [0, 1)", d)
	}

	switch r.Combination.Method {
	case CombineWeightedSum, CombinePCA:
	case "":
		return quanterr.Configuration(op, "combination method is required")
	default:
		return quanterr.Configuration(op, "unknown combination method %q", r.Combination.Method)
	}

	if r.Combination.Method == CombineWeightedSum {
		total := 0.0
		for _, id := range enabled {
			total += math.Abs(r.FactorWeight(id))
		}
		if total == 0 {
			return quanterr.Configuration(op, "weighted_sum needs at least one non-zero factor weight")
		}
	}
	return nil
}
