package signals

import (
	"math"

	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
)

// Factor ids with a built-in definition
const (
	FactorMomentum = "momentum"
	FactorValue    = "value"
	FactorQuality  = "quality"
	FactorGrowth   = "growth"
	FactorLowVol   = "low_vol"
	FactorSize     = "size"
	FactorESG      = "esg"
)

// Default lookbacks in trading days
const (
	DefaultMomentumLookback = 252
	DefaultLowVolLookback   = 252
)

// rawFactor produces date-major raw values ([t][i]) for one factor
type rawFactor func(p *panel.Panel, lookback int) [][]float64

var library = map[string]struct {
	compute  rawFactor
	lookback int
}{
	FactorMomentum: {momentum, DefaultMomentumLookback},
	FactorValue:    {value, 0},
	FactorQuality:  {quality, 0},
	FactorGrowth:   {fieldFactor(panel.FieldEarningsGrowth), 0},
	FactorLowVol:   {lowVolatility, DefaultLowVolLookback},
	FactorSize:     {size, 0},
	FactorESG:      {fieldFactor(panel.FieldESGScore), 0},
}

// RawFactor resolves a factor id to its raw values. Built-in ids use the
// factor library; any other id must name a panel field, used as is.
// Infinite raw values count as missing.
func RawFactor(p *panel.Panel, id string, cfg FactorConfig) ([][]float64, error) {
	if def, ok := library[id]; ok {
		lookback := def.lookback
		if cfg.Lookback != nil {
			lookback = *cfg.Lookback
		}
		return finite(def.compute(p, lookback)), nil
	}
	if p.Has(id) {
		return finite(fieldFactor(id)(p, 0)), nil
	}
	return nil, quanterr.Configuration("signal recipe", "unknown factor %s (not a built-in factor or panel field)", id)
}

// Lookback returns the trading days of history a factor needs before it
// produces a value. Field factors need none.
func Lookback(id string, cfg FactorConfig) int {
	def, ok := library[id]
	if !ok || def.lookback == 0 {
		return 0
	}
	if cfg.Lookback != nil {
		return *cfg.Lookback
	}
	return def.lookback
}

// MaxLookback returns the longest history any enabled factor needs
func (r *Recipe) MaxLookback() int {
	longest := 0
	for _, id := range r.EnabledFactors() {
		longest = max(longest, Lookback(id, r.Factors[id]))
	}
	return longest
}

// momentum is the trailing rate of change of close over the lookback,
// close[t]/close[t-lookback] - 1, including the most recent days
func momentum(p *panel.Panel, lookback int) [][]float64 {
	bySeries := make([][]float64, len(p.Instruments))
	for i := range p.Instruments {
		bySeries[i] = formulas.RateOfChange(p.Series(panel.FieldClose, i), lookback)
	}
	return transpose(bySeries, p.NumDates())
}

// value prefers book-to-price and falls back to earnings yield
func value(p *panel.Panel, _ int) [][]float64 {
	if p.Has(panel.FieldBookToPrice) {
		return fieldFactor(panel.FieldBookToPrice)(p, 0)
	}
	return fieldFactor(panel.FieldEarningsYield)(p, 0)
}

// quality is return on equity less leverage. Panels without a
// debt_to_equity field score on ROE alone.
func quality(p *panel.Panel, _ int) [][]float64 {
	out := fieldFactor(panel.FieldROE)(p, 0)
	if !p.Has(panel.FieldDebtToEquity) {
		return out
	}
	leverage := fieldFactor(panel.FieldDebtToEquity)(p, 0)
	for t := range out {
		for i := range out[t] {
			out[t][i] -= leverage[t][i]
		}
	}
	return out
}

// lowVolatility scores low trailing return volatility higher
func lowVolatility(p *panel.Panel, lookback int) [][]float64 {
	returns := p.Returns()
	bySeries := make([][]float64, len(p.Instruments))
	for i := range p.Instruments {
		sd := formulas.RollingStdDev(returns[i], lookback)
		for t := range sd {
			sd[t] = -sd[t]
		}
		bySeries[i] = sd
	}
	return transpose(bySeries, p.NumDates())
}

// size scores small capitalizations higher (negative log market cap)
func size(p *panel.Panel, _ int) [][]float64 {
	out := fieldFactor(panel.FieldMarketCap)(p, 0)
	for t := range out {
		for i, v := range out[t] {
			if v > 0 {
				out[t][i] = -math.Log(v)
			} else {
				out[t][i] = math.NaN()
			}
		}
	}
	return out
}

func fieldFactor(field string) rawFactor {
	return func(p *panel.Panel, _ int) [][]float64 {
		out := make([][]float64, p.NumDates())
		for t := range out {
			out[t] = p.CrossSection(field, t)
		}
		return out
	}
}

// logMarketCap returns date-major log market caps, NaN where unavailable
func logMarketCap(p *panel.Panel) [][]float64 {
	out := fieldFactor(panel.FieldMarketCap)(p, 0)
	for t := range out {
		for i, v := range out[t] {
			if v > 0 {
				out[t][i] = math.Log(v)
			} else {
				out[t][i] = math.NaN()
			}
		}
	}
	return out
}

func finite(m [][]float64) [][]float64 {
	for t := range m {
		for i, v := range m[t] {
			if math.IsInf(v, 0) {
				m[t][i] = math.NaN()
			}
		}
	}
	return m
}

func transpose(bySeries [][]float64, dates int) [][]float64 {
	out := make([][]float64, dates)
	for t := range out {
		row := make([]float64, len(bySeries))
		for i := range bySeries {
			row[i] = bySeries[i][t]
		}
		out[t] = row
	}
	return out
}
