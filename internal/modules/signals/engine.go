package signals

import (
	"context"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

// ForwardReturns are caller-supplied forward returns, date-major ([t][i]),
// used only for the information coefficient.
type ForwardReturns struct {
	Dates  []time.Time     `json:"dates" yaml:"dates" msgpack:"dates"`
	Values []domain.Values `json:"values" yaml:"values" msgpack:"values"`
}

// Result holds per-factor and combined scores, date-major ([t][i])
type Result struct {
	Dates       []time.Time                `json:"dates" yaml:"dates" msgpack:"dates"`
	Instruments []string                   `json:"instruments" yaml:"instruments" msgpack:"instruments"`
	PerFactor   map[string][]domain.Values `json:"per_factor" yaml:"per_factor" msgpack:"per_factor"`
	Combined    []domain.Values            `json:"combined" yaml:"combined" msgpack:"combined"`
	Loadings    map[string]float64         `json:"loadings,omitempty" yaml:"loadings,omitempty" msgpack:"loadings,omitempty"`
	Diagnostics Diagnostics                `json:"diagnostics" yaml:"diagnostics" msgpack:"diagnostics"`
}

// Latest returns the combined score of every instrument on the last date
func (r *Result) Latest() map[string]float64 {
	out := make(map[string]float64, len(r.Instruments))
	if len(r.Combined) == 0 {
		return out
	}
	last := r.Combined[len(r.Combined)-1]
	for i, id := range r.Instruments {
		out[id] = last[i]
	}
	return out
}

// At returns the combined cross-section on date, if present
func (r *Result) At(date time.Time) (domain.Values, bool) {
	for t, d := range r.Dates {
		if d.Equal(date) {
			return r.Combined[t], true
		}
	}
	return nil, false
}

// Engine computes signals. It holds no state between calls.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a signal engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "signals").Logger()}
}

// Compute runs the recipe over the panel
func (e *Engine) Compute(ctx context.Context, p *panel.Panel, universe *domain.Universe, recipe Recipe, forward *ForwardReturns) (*Result, error) {
	const op = "signal compute"

	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := p.Align(universe); err != nil {
		return nil, err
	}
	if forward != nil {
		if err := checkForwardAlignment(p, forward); err != nil {
			return nil, err
		}
	}

	sectors := make([]string, len(universe.Instruments))
	for i, inst := range universe.Instruments {
		sectors[i] = inst.Sector
	}
	var logCap [][]float64
	if recipe.Pipeline.SizeNeutralize {
		if !p.Has(panel.FieldMarketCap) {
			return nil, quanterr.Configuration(op, "size_neutralize requires the %s field", panel.FieldMarketCap)
		}
		logCap = logMarketCap(p)
	}

	factorIDs := recipe.EnabledFactors()
	scores := make([][][]float64, len(factorIDs))
	weights := make([]float64, len(factorIDs))
	for f, id := range factorIDs {
		cfg := recipe.Factors[id]
		raw, err := RawFactor(p, id, cfg)
		if err != nil {
			return nil, err
		}

		processed := make([][]float64, len(raw))
		for t := range raw {
			if t%64 == 0 {
				if err := quanterr.CheckContext(ctx, op); err != nil {
					return nil, err
				}
			}
			cs := Winsorize(raw[t], cfg.WinsorizePercentile)
			if recipe.Pipeline.ZScore {
				cs = ZScore(cs)
			}
			if recipe.Pipeline.SectorNeutralize || recipe.Pipeline.SizeNeutralize {
				var lc []float64
				if logCap != nil {
					lc = logCap[t]
				}
				cs = Neutralize(cs, sectors, lc, recipe.Pipeline.SectorNeutralize, recipe.Pipeline.SizeNeutralize)
			}
			processed[t] = cs
		}
		scores[f] = Decay(processed, recipe.Pipeline.Decay)
		weights[f] = recipe.FactorWeight(id)
	}

	result := &Result{
		Dates:       p.Dates,
		Instruments: p.Instruments,
		PerFactor:   make(map[string][]domain.Values, len(factorIDs)),
	}
	for f, id := range factorIDs {
		result.PerFactor[id] = toValues(scores[f])
	}

	var combined [][]float64
	switch recipe.Combination.Method {
	case CombinePCA:
		var loadings []float64
		combined, loadings = combinePCA(scores)
		result.Loadings = make(map[string]float64, len(factorIDs))
		for f, id := range factorIDs {
			result.Loadings[id] = loadings[f]
		}
	default:
		combined = combineWeighted(scores, weights)
	}
	result.Combined = toValues(combined)

	var fwd [][]float64
	if forward != nil {
		fwd = make([][]float64, len(forward.Values))
		for t, row := range forward.Values {
			fwd[t] = row
		}
	}
	result.Diagnostics = computeDiagnostics(combined, fwd)

	e.log.Debug().
		Str("universe", universe.ID).
		Strs("factors", factorIDs).
		Str("method", string(recipe.Combination.Method)).
		Int("dates", len(p.Dates)).
		Float64("coverage", result.Diagnostics.Coverage).
		Msg("Signals computed")

	return result, nil
}

func checkForwardAlignment(p *panel.Panel, forward *ForwardReturns) error {
	const op = "signal compute"
	if len(forward.Dates) != len(p.Dates) || len(forward.Values) != len(p.Dates) {
		return quanterr.Alignment(op, "forward returns cover %d dates, panel has %d", len(forward.Dates), len(p.Dates))
	}
	for t, d := range forward.Dates {
		if !d.Equal(p.Dates[t]) {
			return quanterr.Alignment(op, "forward return date %s does not match panel date %s",
				d.Format("2006-01-02"), p.Dates[t].Format("2006-01-02"))
		}
		if len(forward.Values[t]) != len(p.Instruments) {
			return quanterr.Alignment(op, "forward returns on %s have %d instruments, panel has %d",
				d.Format("2006-01-02"), len(forward.Values[t]), len(p.Instruments))
		}
	}
	return nil
}

func toValues(m [][]float64) []domain.Values {
	out := make([]domain.Values, len(m))
	for t, row := range m {
		out[t] = row
	}
	return out
}

// PanelForwardReturns derives next-day close-to-close returns from the panel
func PanelForwardReturns(p *panel.Panel) *ForwardReturns {
	bySeries := p.ForwardReturns()
	return &ForwardReturns{
		Dates:  p.Dates,
		Values: toValues(transpose(bySeries, p.NumDates())),
	}
}
