package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRebalanceSchedule(t *testing.T) {
	// Thu 26 Jan .. Wed 8 Feb 2023, weekdays only
	dates := []time.Time{
		day(2023, 1, 26), day(2023, 1, 27),
		day(2023, 1, 30), day(2023, 1, 31), day(2023, 2, 1), day(2023, 2, 2), day(2023, 2, 3),
		day(2023, 2, 6), day(2023, 2, 7), day(2023, 2, 8),
	}

	tests := []struct {
		cadence Cadence
		want    []int
	}{
		{CadenceDaily, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{CadenceWeekly, []int{0, 2, 7}},
		{CadenceMonthly, []int{0, 4}},
	}
	for _, tt := range tests {
		t.Run(string(tt.cadence), func(t *testing.T) {
			var got []int
			for i, on := range RebalanceSchedule(dates, tt.cadence) {
				if on {
					got = append(got, i)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRebalanceSchedule_WeeklyAcrossYearEnd(t *testing.T) {
	// 2 Jan 2023 opens ISO week 1 even though 30 Dec 2022 is in week 52
	dates := []time.Time{day(2022, 12, 29), day(2022, 12, 30), day(2023, 1, 2)}
	assert.Equal(t, []bool{true, false, true}, RebalanceSchedule(dates, CadenceWeekly))
}

func TestParseCadence(t *testing.T) {
	c, err := ParseCadence("")
	require.NoError(t, err)
	assert.Equal(t, CadenceMonthly, c)

	c, err = ParseCadence("weekly")
	require.NoError(t, err)
	assert.Equal(t, CadenceWeekly, c)

	_, err = ParseCadence("quarterly")
	assert.Error(t, err)
}

func TestCosts_TradeCost(t *testing.T) {
	c := Costs{CostBps: 10, SlippageBps: 20}

	commission, slippage, participation := c.TradeCost(-100_000, 10_000, 100)
	assert.InDelta(t, 100, commission, 1e-9)
	assert.InDelta(t, 0.1, participation, 1e-12)
	assert.InDelta(t, 100_000*0.002*math.Sqrt(0.1), slippage, 1e-9)

	_, slippage, participation = c.TradeCost(100_000, math.NaN(), 100)
	assert.Equal(t, 0.0, slippage)
	assert.Equal(t, 0.0, participation)
}

func TestCosts_DailyBorrow(t *testing.T) {
	c := Costs{BorrowRate: 0.0252}
	assert.InDelta(t, 100, c.DailyBorrow(1e6), 1e-9)
	assert.Equal(t, 0.0, c.DailyBorrow(0))
}

func TestAverageDailyVolume_ExpandsUntilWindowFills(t *testing.T) {
	adv := averageDailyVolume([][]float64{{10, 20, math.NaN(), 30, 40}}, 3)
	require.Len(t, adv, 1)
	assert.InDelta(t, 10, adv[0][0], 1e-12)
	assert.InDelta(t, 15, adv[0][1], 1e-12)
	assert.False(t, math.IsNaN(adv[0][4]))
}
