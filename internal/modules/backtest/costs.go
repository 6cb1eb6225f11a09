package backtest

import (
	"math"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
)

// Validate rejects negative or non-finite cost parameters
func (c Costs) Validate() error {
	params := []struct {
		name  string
		value float64
	}{
		{"cost_bps", c.CostBps},
		{"slippage_bps", c.SlippageBps},
		{"borrow_rate", c.BorrowRate},
	}
	for _, p := range params {
		if p.value < 0 || math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return quanterr.Configuration("backtest", "%s must be a non-negative number, got %v", p.name, p.value)
		}
	}
	if c.ADVWindow < 0 {
		return quanterr.Configuration("backtest", "adv_window must be non-negative, got %d", c.ADVWindow)
	}
	return nil
}

// TradeCost returns the commission and slippage charged on a trade of the
// given absolute notional. Participation is notional over (ADV x price);
// without a usable ADV no slippage is charged.
func (c Costs) TradeCost(notional, adv, price float64) (commission, slippage, participation float64) {
	notional = math.Abs(notional)
	commission = notional * c.CostBps / 1e4
	if adv > 0 && price > 0 && !math.IsNaN(adv) {
		participation = notional / (adv * price)
		slippage = notional * c.SlippageBps / 1e4 * math.Sqrt(participation)
	}
	return commission, slippage, participation
}

// DailyBorrow returns one day of financing on the given short notional
func (c Costs) DailyBorrow(shortNotional float64) float64 {
	if shortNotional <= 0 {
		return 0
	}
	return shortNotional * c.BorrowRate / formulas.TradingDaysPerYear
}

// averageDailyVolume returns, per instrument, the trailing mean volume known
// at each date. Before the window fills, the expanding mean is used.
func averageDailyVolume(volume [][]float64, window int) [][]float64 {
	if window <= 0 {
		window = DefaultADVWindow
	}
	out := make([][]float64, len(volume))
	for i, series := range volume {
		adv := formulas.RollingMean(series, window)
		sum, count := 0.0, 0
		for t, v := range series {
			if !math.IsNaN(v) {
				sum += v
				count++
			}
			if math.IsNaN(adv[t]) && count > 0 {
				adv[t] = sum / float64(count)
			}
		}
		out[i] = adv
	}
	return out
}
