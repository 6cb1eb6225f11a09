package backtest

import (
	"math"

	"github.com/aristath/quantcore/pkg/formulas"
)

// CalculatePerformance derives the run KPIs from the equity curve, trades and
// turnover. Returns are daily and the risk-free rate is zero.
func CalculatePerformance(res *Result, capital float64, cadence Cadence, tradingCosts, borrowCosts float64) Performance {
	perf := Performance{
		NumTrades:        len(res.Trades),
		NumRebalances:    len(res.Turnover),
		TotalCosts:       tradingCosts + borrowCosts,
		TotalBorrowCosts: borrowCosts,
	}
	days := len(res.EquityCurve)
	if days == 0 || capital <= 0 {
		return perf
	}

	returns := make([]float64, days)
	navs := make([]float64, days+1)
	navs[0] = capital
	wins := 0
	for t, pt := range res.EquityCurve {
		returns[t] = pt.Return
		navs[t+1] = pt.NAV
		if pt.Return > 0 {
			wins++
		}
	}

	perf.FinalNAV = res.EquityCurve[days-1].NAV
	perf.TotalReturn = perf.FinalNAV/capital - 1
	perf.AnnualizedReturn = math.Pow(1+perf.TotalReturn, formulas.TradingDaysPerYear/float64(days)) - 1
	perf.Volatility = formulas.AnnualizedVolatility(returns)
	if sd := formulas.StdDev(returns); sd > 0 {
		perf.Sharpe = formulas.Mean(returns) / sd * math.Sqrt(formulas.TradingDaysPerYear)
	}
	perf.MaxDrawdown = formulas.MaxDrawdown(navs)
	perf.WinRate = float64(wins) / float64(days)

	if len(res.Turnover) > 0 {
		total := 0.0
		for _, tp := range res.Turnover {
			total += tp.Turnover
		}
		perf.AvgTurnover = total / float64(len(res.Turnover))
		perf.AnnualizedTurnover = perf.AvgTurnover * RebalancesPerYear(cadence)
	}
	return perf
}
