package pipeline

import (
	"math"
	"strings"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/pkg/formulas"
)

// marketModel is the equal-weight universe used as benchmark and single
// market factor over a trailing window.
type marketModel struct {
	// returns is date-major; gaps stay NaN
	returns []domain.Values
	// benchmark is the mean of the available returns on each date
	benchmark domain.Values
	// weights is the equal-weight benchmark portfolio
	weights []float64
	betas   []float64
}

func newMarketModel(p *panel.Panel, lookback int) *marketModel {
	n := len(p.Instruments)
	byInstrument := p.Returns()

	// Date 0 has no return
	start := 1
	if lookback > 0 && p.NumDates()-lookback > start {
		start = p.NumDates() - lookback
	}

	m := &marketModel{weights: make([]float64, n), betas: make([]float64, n)}
	for i := range m.weights {
		m.weights[i] = 1.0 / float64(n)
	}
	for t := start; t < p.NumDates(); t++ {
		row := make(domain.Values, n)
		sum, count := 0.0, 0
		for i := range row {
			row[i] = byInstrument[i][t]
			if !math.IsNaN(row[i]) {
				sum += row[i]
				count++
			}
		}
		m.returns = append(m.returns, row)
		if count > 0 {
			m.benchmark = append(m.benchmark, sum/float64(count))
		} else {
			m.benchmark = append(m.benchmark, math.NaN())
		}
	}

	// Beta over the dates both the instrument and the market have a return
	for i := range m.betas {
		var x, y []float64
		for t, row := range m.returns {
			if math.IsNaN(row[i]) || math.IsNaN(m.benchmark[t]) {
				continue
			}
			x = append(x, row[i])
			y = append(y, m.benchmark[t])
		}
		if v := formulas.Variance(y); v > 0 {
			m.betas[i] = formulas.Covariance(x, y) / v
		} else {
			m.betas[i] = 1
		}
	}
	return m
}

// factorLoadings builds the stress loading matrix: the market beta plus a
// unit loading on the instrument's lower-cased sector.
func factorLoadings(universe *domain.Universe, betas []float64) ([][]float64, []string) {
	factors := []string{MarketFactor}
	column := map[string]int{}
	for _, inst := range universe.Instruments {
		sector := strings.ToLower(strings.TrimSpace(inst.Sector))
		if sector == "" || sector == MarketFactor {
			continue
		}
		if _, ok := column[sector]; !ok {
			column[sector] = len(factors)
			factors = append(factors, sector)
		}
	}

	loadings := make([][]float64, len(universe.Instruments))
	for i, inst := range universe.Instruments {
		row := make([]float64, len(factors))
		row[0] = betas[i]
		if j, ok := column[strings.ToLower(strings.TrimSpace(inst.Sector))]; ok {
			row[j] = 1
		}
		loadings[i] = row
	}
	return loadings, factors
}

// tradedValue is the trailing mean of close x volume per instrument, or NaN
// without volume data.
func tradedValue(p *panel.Panel, window int) domain.Values {
	out := make(domain.Values, len(p.Instruments))
	for i := range out {
		out[i] = math.NaN()
	}
	if !p.Has(panel.FieldVolume) || !p.Has(panel.FieldClose) || p.NumDates() == 0 {
		return out
	}
	if window <= 0 {
		window = DefaultADVWindow
	}
	from := p.NumDates() - window
	if from < 0 {
		from = 0
	}
	for i := range out {
		closes := p.Series(panel.FieldClose, i)
		volumes := p.Series(panel.FieldVolume, i)
		var values []float64
		for t := from; t < p.NumDates(); t++ {
			if v := closes[t] * volumes[t]; !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		if len(values) > 0 {
			out[i] = formulas.Mean(values)
		}
	}
	return out
}

// latest returns the last finite value of field per instrument
func latest(p *panel.Panel, field string) map[string]float64 {
	out := map[string]float64{}
	if !p.Has(field) {
		return out
	}
	for i, id := range p.Instruments {
		series := p.Series(field, i)
		for t := len(series) - 1; t >= 0; t-- {
			if !math.IsNaN(series[t]) {
				out[id] = series[t]
				break
			}
		}
	}
	return out
}
