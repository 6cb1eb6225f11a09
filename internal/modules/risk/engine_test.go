package risk_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func history(days int, f func(t, i int) float64, n int) []domain.Values {
	out := make([]domain.Values, days)
	for t := range out {
		row := make(domain.Values, n)
		for i := range row {
			row[i] = f(t, i)
		}
		out[t] = row
	}
	return out
}

func wave(t, i int) float64 {
	x := float64(t)
	return 0.01*math.Sin(0.7*x+float64(i)) + 0.003*math.Cos(1.9*x)
}

func TestMetrics_ParametricFromCovariance(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())
	m, err := engine.Metrics(context.Background(), risk.MetricsRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 0.5, "B": 0.5},
		Covariance:  [][]float64{{0.0004, 0}, {0, 0.0004}},
	})
	require.NoError(t, err)

	sigma := math.Sqrt(0.0002)
	assert.Equal(t, risk.MethodParametric, m.Method)
	assert.InDelta(t, sigma, m.Volatility, 1e-12)
	assert.InDelta(t, sigma*math.Sqrt(252), m.AnnualizedVolatility, 1e-12)
	assert.InDelta(t, -1.6448536*sigma, m.VaR95, 1e-8)
	assert.InDelta(t, -2.3263479*sigma, m.VaR99, 1e-8)
	assert.Equal(t, m.Parametric.ES97, m.ES97)
	assert.Zero(t, m.Observations)
	assert.Nil(t, m.Beta)
}

func TestMetrics_HistoricalIsDefaultWithEnoughHistory(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())
	m, err := engine.Metrics(context.Background(), risk.MetricsRequest{
		Instruments: []string{"A", "B", "C"},
		Weights:     domain.Weights{"A": 0.4, "B": 0.4, "C": 0.2},
		Returns:     history(60, wave, 3),
	})
	require.NoError(t, err)

	assert.Equal(t, risk.MethodHistorical, m.Method)
	assert.Equal(t, 60, m.Observations)
	assert.Equal(t, m.Historical.VaR95, m.VaR95)
	assert.Equal(t, m.Historical.ES97, m.ES97)
	assert.LessOrEqual(t, m.ES95, m.VaR95)
	assert.LessOrEqual(t, m.VaR99, m.VaR95)
	assert.Greater(t, m.Volatility, 0.0)
}

func TestMetrics_SkipsRowsWithGapsInHeldInstruments(t *testing.T) {
	returns := history(30, wave, 2)
	returns[3][0] = math.NaN()
	returns[4][1] = math.NaN()

	m, err := risk.NewEngine(zerolog.Nop()).Metrics(context.Background(), risk.MetricsRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 1},
		Returns:     returns,
	})
	require.NoError(t, err)
	// The gap in B is irrelevant because B is not held
	assert.Equal(t, 29, m.Observations)
}

func TestMetrics_BetaAndTrackingError(t *testing.T) {
	days := 40
	bench := make(domain.Values, days)
	returns := make([]domain.Values, days)
	for d := range returns {
		bench[d] = 0.01 * math.Sin(0.5*float64(d))
		returns[d] = domain.Values{2 * bench[d], 0}
	}

	m, err := risk.NewEngine(zerolog.Nop()).Metrics(context.Background(), risk.MetricsRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 1},
		Returns:     returns,
		Benchmark:   bench,
	})
	require.NoError(t, err)
	require.NotNil(t, m.Beta)
	require.NotNil(t, m.TrackingError)

	// Active return equals the benchmark return
	sd := 0.0
	mean := 0.0
	for _, b := range bench {
		mean += b
	}
	mean /= float64(days)
	for _, b := range bench {
		sd += (b - mean) * (b - mean)
	}
	sd = math.Sqrt(sd / float64(days-1))

	assert.InDelta(t, 2.0, *m.Beta, 1e-9)
	assert.InDelta(t, sd*math.Sqrt(252), *m.TrackingError, 1e-9)
}

func TestMetrics_Exposures(t *testing.T) {
	m, err := risk.NewEngine(zerolog.Nop()).Metrics(context.Background(), risk.MetricsRequest{
		Instruments: []string{"A", "B", "C"},
		Weights:     domain.Weights{"A": 0.5, "B": 0.3, "C": -0.2},
		Covariance:  [][]float64{{0.04, 0, 0}, {0, 0.04, 0}, {0, 0, 0.04}},
		Loadings:    [][]float64{{1.2, 0.5}, {0.8, -0.5}, {1.0, 0}},
		Factors:     []string{"market", "size"},
		Sectors:     map[string]string{"A": "tech", "B": "tech"},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.6+0.24-0.2, m.FactorExposures["market"], 1e-12)
	assert.InDelta(t, 0.25-0.15, m.FactorExposures["size"], 1e-12)
	assert.InDelta(t, 0.8, m.SectorExposures["tech"], 1e-12)
	assert.InDelta(t, -0.2, m.SectorExposures["unclassified"], 1e-12)
}

func TestMetrics_Failures(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())
	cov := [][]float64{{0.04, 0}, {0, 0.04}}

	tests := []struct {
		name    string
		req     risk.MetricsRequest
		wantErr error
	}{
		{"unknown instrument", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"Z": 1}, Covariance: cov}, quanterr.ErrAlignment},
		{"nan weight", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": math.NaN()}, Covariance: cov}, quanterr.ErrConfiguration},
		{"no risk input", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}}, quanterr.ErrDataGap},
		{"unknown method", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}, Covariance: cov, Method: "monte_carlo"}, quanterr.ErrConfiguration},
		{"historical without history", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}, Covariance: cov, Method: risk.MethodHistorical}, quanterr.ErrDataGap},
		{"misaligned covariance", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}, Covariance: [][]float64{{0.04}}}, quanterr.ErrAlignment},
		{"misaligned benchmark", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}, Returns: history(5, wave, 2), Benchmark: domain.Values{0.01}}, quanterr.ErrAlignment},
		{"misaligned loadings", risk.MetricsRequest{Instruments: []string{"A", "B"}, Weights: domain.Weights{"A": 1}, Covariance: cov, Loadings: [][]float64{{1}}}, quanterr.ErrAlignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Metrics(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func stressRequest() risk.StressRequest {
	return risk.StressRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 0.6, "B": 0.4},
		Loadings:    [][]float64{{1.0, 1.0}, {1.5, 0}},
		Factors:     []string{"market", "tech"},
		NAV:         1_000_000,
	}
}

func TestStress_DefaultScenarios(t *testing.T) {
	report, err := risk.NewEngine(zerolog.Nop()).Stress(context.Background(), stressRequest())
	require.NoError(t, err)

	require.Len(t, report.Results, 5)
	byName := make(map[string]risk.ScenarioResult)
	for _, r := range report.Results {
		byName[r.ScenarioName] = r
	}

	crash := byName["market_crash"]
	assert.InDelta(t, 1.2*-0.20, crash.Impact, 1e-12)
	assert.InDelta(t, 0.24, crash.Loss, 1e-12)
	assert.Equal(t, []string{"volatility"}, crash.Unmatched)

	rotation := byName["sector_rotation"]
	assert.InDelta(t, 0.6*-0.15, rotation.Impact, 1e-12)

	assert.Zero(t, byName["oil_shock"].Impact)

	assert.Equal(t, 5, report.Summary.NumScenarios)
	assert.Equal(t, "market_crash", report.Summary.WorstScenario)
	assert.InDelta(t, 0.24, report.Summary.WorstCase, 1e-12)
	assert.InDelta(t, 0.01*(0.24+0.09), report.Summary.ExpectedLoss, 1e-12)
}

func TestStress_CustomScenarioAndBaseReturn(t *testing.T) {
	req := stressRequest()
	req.Expected = domain.Values{0.01, 0.02}
	req.Scenarios = []risk.Scenario{
		{Name: "tech_rally", Shocks: map[string]float64{"tech": 0.10}, Probability: 0.2},
	}

	report, err := risk.NewEngine(zerolog.Nop()).Stress(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	r := report.Results[0]
	assert.InDelta(t, 0.014, r.BaseReturn, 1e-12)
	assert.InDelta(t, 0.06, r.Impact, 1e-12)
	assert.InDelta(t, 0.074, r.ShockedReturn, 1e-12)
	assert.Zero(t, r.Loss)
	assert.Zero(t, report.Summary.ExpectedLoss)
}

func TestStress_Hedges(t *testing.T) {
	report, err := risk.NewEngine(zerolog.Nop()).Stress(context.Background(), stressRequest())
	require.NoError(t, err)

	require.Len(t, report.Hedges, 2)
	assert.Equal(t, "market", report.Hedges[0].Factor)
	assert.Equal(t, risk.SideSell, report.Hedges[0].Side)
	assert.InDelta(t, -1.2, report.Hedges[0].Weight, 1e-12)
	assert.InDelta(t, -1_200_000, report.Hedges[0].Notional, 1e-6)
	assert.Equal(t, "tech", report.Hedges[1].Factor)

	hedges := risk.SuggestHedges(map[string]float64{"value": -0.3, "size": 0.05}, 0.1, 0)
	require.Len(t, hedges, 1)
	assert.Equal(t, risk.SideBuy, hedges[0].Side)
	assert.Zero(t, hedges[0].Notional)
}

func TestStress_Failures(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())

	noLoadings := stressRequest()
	noLoadings.Loadings = nil
	_, err := engine.Stress(context.Background(), noLoadings)
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

	badProb := stressRequest()
	badProb.Scenarios = []risk.Scenario{{Name: "x", Probability: 2}}
	_, err = engine.Stress(context.Background(), badProb)
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

	dup := stressRequest()
	dup.Scenarios = []risk.Scenario{{Name: "x"}, {Name: "x"}}
	_, err = engine.Stress(context.Background(), dup)
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}

func TestLiquidityStress_Regimes(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())
	report, err := engine.LiquidityStress(context.Background(),
		[]string{"A", "B", "C"},
		domain.Weights{"A": 0.1, "B": -0.05, "C": 0.02},
		risk.LiquidityRequest{NAV: 1_000_000, ADV: domain.Values{100_000, 1_000_000, math.NaN()}},
	)
	require.NoError(t, err)
	require.Len(t, report.Regimes, 3)
	assert.Equal(t, risk.DefaultHorizonDays, report.HorizonDays)

	normal := report.Regimes[0]
	require.Len(t, normal.Positions, 3)
	assert.InDelta(t, 5.0, normal.Positions[0].DaysToLiquidate, 1e-12)
	assert.False(t, normal.Positions[0].Breach)
	assert.InDelta(t, 0.25, normal.Positions[1].DaysToLiquidate, 1e-12)
	assert.True(t, normal.Positions[2].NoVolume)
	assert.True(t, normal.Positions[2].Breach)
	assert.Equal(t, 1, normal.Breaches)

	crisis := report.Regimes[2]
	assert.Equal(t, "crisis", crisis.Regime)
	assert.InDelta(t, 50.0, crisis.MaxDays, 1e-9)
	assert.Equal(t, 2, crisis.Breaches)
	assert.InDelta(t, 0.12, crisis.BreachWeight, 1e-12)
}

func TestLiquidityStress_ViaStress(t *testing.T) {
	req := stressRequest()
	req.Liquidity = &risk.LiquidityRequest{ADV: domain.Values{1e6, 1e6}, HorizonDays: 1}

	report, err := risk.NewEngine(zerolog.Nop()).Stress(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, report.Liquidity)
	assert.Equal(t, 1.0, report.Liquidity.HorizonDays)
	assert.InDelta(t, 3.0, report.Liquidity.Regimes[0].Positions[0].DaysToLiquidate, 1e-12)
}

func TestLiquidityStress_Failures(t *testing.T) {
	engine := risk.NewEngine(zerolog.Nop())
	ids := []string{"A"}
	w := domain.Weights{"A": 1}

	_, err := engine.LiquidityStress(context.Background(), ids, w, risk.LiquidityRequest{NAV: 1, ADV: domain.Values{1, 2}})
	assert.True(t, errors.Is(err, quanterr.ErrAlignment))

	_, err = engine.LiquidityStress(context.Background(), ids, w, risk.LiquidityRequest{ADV: domain.Values{1}})
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))

	_, err = engine.LiquidityStress(context.Background(), ids, w, risk.LiquidityRequest{
		NAV: 1, ADV: domain.Values{1}, Regimes: []risk.LiquidityRegime{{Name: "boom", VolumeHaircut: 0.5}},
	})
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}
