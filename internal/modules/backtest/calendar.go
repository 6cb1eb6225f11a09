package backtest

import (
	"time"

	"github.com/aristath/quantcore/internal/quanterr"
)

// ParseCadence validates a cadence name; empty means monthly
func ParseCadence(s string) (Cadence, error) {
	switch Cadence(s) {
	case "":
		return CadenceMonthly, nil
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return Cadence(s), nil
	}
	return "", quanterr.Configuration("backtest", "unknown rebalance cadence %q", s)
}

// RebalanceSchedule marks the trading days on which the portfolio rebalances.
// The first day always rebalances. Weekly picks the first trading day of each
// ISO week and monthly the first trading day of each calendar month.
func RebalanceSchedule(dates []time.Time, cadence Cadence) []bool {
	out := make([]bool, len(dates))
	for t := range dates {
		if t == 0 {
			out[t] = true
			continue
		}
		prev, cur := dates[t-1], dates[t]
		switch cadence {
		case CadenceDaily:
			out[t] = true
		case CadenceWeekly:
			py, pw := prev.ISOWeek()
			cy, cw := cur.ISOWeek()
			out[t] = py != cy || pw != cw
		default:
			out[t] = prev.Year() != cur.Year() || prev.Month() != cur.Month()
		}
	}
	return out
}

// RebalancesPerYear is the nominal number of rebalances in a year of trading days
func RebalancesPerYear(cadence Cadence) float64 {
	switch cadence {
	case CadenceDaily:
		return 252
	case CadenceWeekly:
		return 52
	default:
		return 12
	}
}
