package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/quanterr"
	testutil "github.com/aristath/quantcore/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func newTestRunner(loader *testutil.MockLoader) *Runner {
	log := zerolog.Nop()
	return NewRunner(
		loader,
		signals.NewEngine(log),
		optimization.NewOptimizer(log),
		risk.NewEngine(log),
		compliance.NewEngine(log),
		backtest.NewEngine(log),
		log,
	)
}

func momentumStrategy() Strategy {
	return Strategy{
		Recipe: signals.Recipe{
			Factors: map[string]signals.FactorConfig{
				signals.FactorMomentum: {Enabled: true, Weight: 1, Lookback: intPtr(20)},
			},
			Pipeline:    signals.PipelineConfig{ZScore: true},
			Combination: signals.CombinationConfig{Method: signals.CombineWeightedSum},
		},
		Method:       optimization.MethodMeanVariance,
		Constraints:  optimization.Constraints{MaxPosition: 0.4, LongOnly: true},
		LookbackDays: 60,
	}
}

func TestRun_EndToEnd(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B", "C", "D", "E", "F"}, []string{"tech", "energy", "defensive"})
	p := testutil.TrendingPanel(u, 120, []float64{0.002, -0.001, 0.0015, -0.002, 0.0005, 0})
	runner := newTestRunner(testutil.NewMockLoader(u, p))

	report, err := runner.Run(context.Background(), Spec{
		UniverseID: "core",
		Strategy:   momentumStrategy(),
		Backtest: &BacktestSpec{
			Costs:     backtest.DefaultCosts(),
			Rebalance: backtest.Rebalance{Cadence: backtest.CadenceMonthly},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "core", report.UniverseID)
	assert.Equal(t, p.Dates[len(p.Dates)-1], report.AsOf)
	assert.Len(t, report.Signals, 6)
	assert.Greater(t, report.Signals["A"], report.Signals["D"])

	w := report.Portfolio.Weights
	assert.InDelta(t, 1.0, w.Net(), 1e-6)
	for id, v := range w {
		assert.GreaterOrEqual(t, v, -1e-9, id)
		assert.LessOrEqual(t, v, 0.4+1e-6, id)
	}
	assert.Greater(t, w["A"], w["D"])

	require.NotNil(t, report.Risk.Beta)
	require.NotNil(t, report.Risk.TrackingError)
	assert.Contains(t, report.Risk.FactorExposures, MarketFactor)
	assert.NotEmpty(t, report.Stress.Results)
	require.NotNil(t, report.Stress.Liquidity)

	assert.Equal(t, "long_only_fund", report.Compliance.Ruleset)
	assert.NotEmpty(t, report.Compliance.OverallStatus)

	require.NotNil(t, report.Backtest)
	assert.NotEmpty(t, report.Backtest.EquityCurve)

	stages := map[string]bool{}
	for _, timing := range report.Timings {
		stages[timing.Stage] = true
	}
	for _, stage := range []string{"load", "optimize", "risk", "stress", "compliance", "backtest"} {
		assert.True(t, stages[stage], stage)
	}
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestRun_WithoutBacktest(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B", "C"}, []string{"tech"})
	p := testutil.TrendingPanel(u, 60, []float64{0.001, 0, -0.001})
	runner := newTestRunner(testutil.NewMockLoader(u, p))

	strategy := momentumStrategy()
	strategy.Method = optimization.MethodRiskParity
	strategy.Constraints = optimization.Constraints{LongOnly: true}

	report, err := runner.Run(context.Background(), Spec{
		UniverseID:  "core",
		Strategy:    strategy,
		RulesetName: "long_short_fund",
	})
	require.NoError(t, err)
	assert.Nil(t, report.Backtest)
	assert.Equal(t, "long_short_fund", report.Compliance.Ruleset)
	assert.InDelta(t, 1.0, report.Portfolio.Weights.Net(), 1e-6)
}

func TestRun_LoaderErrorNamesStage(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B"}, nil)
	loader := testutil.NewMockLoader(u, testutil.FlatPanel(u, 30, 100))
	loader.SetError(quanterr.DataGap("panel.load", "universe core not found"))

	_, err := newTestRunner(loader).Run(context.Background(), Spec{UniverseID: "core", Strategy: momentumStrategy()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))
	assert.Contains(t, err.Error(), "load")
}

func TestRun_NoSignalIsDataGap(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B"}, nil)
	loader := testutil.NewMockLoader(u, testutil.TrendingPanel(u, 10, []float64{0.001, -0.001}))

	_, err := newTestRunner(loader).Run(context.Background(), Spec{UniverseID: "core", Strategy: momentumStrategy()})
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))
}

func TestSpec_Validate(t *testing.T) {
	valid := Spec{UniverseID: "core", Strategy: momentumStrategy()}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(s *Spec)
	}{
		{name: "missing universe", mutate: func(s *Spec) { s.UniverseID = "" }},
		{name: "negative nav", mutate: func(s *Spec) { s.NAV = -1 }},
		{name: "recipe for another universe", mutate: func(s *Spec) { s.Strategy.Recipe.UniverseID = "other" }},
		{name: "black litterman", mutate: func(s *Spec) { s.Strategy.Method = optimization.MethodBlackLitterman }},
		{name: "unknown method", mutate: func(s *Spec) { s.Strategy.Method = "kelly" }},
		{name: "lookback of one", mutate: func(s *Spec) { s.Strategy.LookbackDays = 1 }},
		{name: "unknown ruleset", mutate: func(s *Spec) { s.RulesetName = "hedge_fund" }},
		{name: "bad cadence", mutate: func(s *Spec) {
			s.Backtest = &BacktestSpec{Rebalance: backtest.Rebalance{Cadence: "hourly"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			spec.Strategy.Recipe.Factors = map[string]signals.FactorConfig{
				signals.FactorMomentum: {Enabled: true, Weight: 1, Lookback: intPtr(20)},
			}
			tt.mutate(&spec)
			err := spec.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, quanterr.ErrConfiguration), err.Error())
		})
	}
}

func TestWeightsFunc_HoldsCashDuringWarmup(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B", "C"}, []string{"tech"})
	p := testutil.TrendingPanel(u, 60, []float64{0.002, 0, -0.002})
	runner := newTestRunner(testutil.NewMockLoader(u, p))
	fn := runner.WeightsFunc(p, u, momentumStrategy(), 0)

	early, err := fn(context.Background(), p.Dates[5])
	require.NoError(t, err)
	assert.Empty(t, early)

	late, err := fn(context.Background(), p.Dates[59])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, late.Net(), 1e-6)
	assert.Greater(t, late["A"], late["C"])

	_, err = fn(context.Background(), p.Dates[0].AddDate(-1, 0, 0))
	assert.True(t, errors.Is(err, quanterr.ErrAlignment))
}

func qualityStrategy() Strategy {
	return Strategy{
		Recipe: signals.Recipe{
			Factors: map[string]signals.FactorConfig{
				signals.FactorQuality: {Enabled: true, Weight: 1},
			},
			Pipeline:    signals.PipelineConfig{ZScore: true},
			Combination: signals.CombinationConfig{Method: signals.CombineWeightedSum},
		},
		Method:       optimization.MethodMeanVariance,
		Constraints:  optimization.Constraints{MaxPosition: 0.4, LongOnly: true},
		LookbackDays: 60,
	}
}

// rebalanceIndex returns the date index of the n-th (zero-based) monthly rebalance
func rebalanceIndex(t *testing.T, p *panel.Panel, n int) int {
	t.Helper()
	seen := 0
	for i, due := range backtest.RebalanceSchedule(p.Dates, backtest.CadenceMonthly) {
		if !due {
			continue
		}
		if seen == n {
			return i
		}
		seen++
	}
	t.Fatalf("panel has fewer than %d rebalance dates", n+1)
	return -1
}

func TestRun_BacktestSurfacesLaterDataGap(t *testing.T) {
	ids := []string{"A", "B", "C", "D", "E", "F"}
	u := testutil.NewUniverse("core", ids, []string{"tech", "energy", "defensive"})

	tests := []struct {
		name    string
		missing int
		wantGap bool
	}{
		{name: "whole universe loses its signal", missing: 6, wantGap: true},
		{name: "most of the universe loses its signal", missing: 4, wantGap: true},
		{name: "one instrument loses its signal", missing: 1, wantGap: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testutil.TrendingPanel(u, 120, []float64{0.002, -0.001, 0.0015, -0.002, 0.0005, 0})
			gap := rebalanceIndex(t, p, 3)
			strategy := qualityStrategy()
			require.Greater(t, gap, strategy.warmup())
			for i := len(ids) - tt.missing; i < len(ids); i++ {
				p.Fields[panel.FieldROE][i][gap] = math.NaN()
			}

			report, err := newTestRunner(testutil.NewMockLoader(u, p)).Run(context.Background(), Spec{
				UniverseID: "core",
				Strategy:   qualityStrategy(),
				Backtest: &BacktestSpec{
					Costs:     backtest.DefaultCosts(),
					Rebalance: backtest.Rebalance{Cadence: backtest.CadenceMonthly},
				},
			})
			if tt.wantGap {
				require.Error(t, err)
				assert.True(t, errors.Is(err, quanterr.ErrDataGap), err.Error())
				assert.Nil(t, report)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, report.Backtest)
			for _, trade := range report.Backtest.Trades {
				if trade.Date.Equal(p.Dates[gap]) {
					assert.NotEqual(t, "F", trade.Instrument, "an instrument without a signal keeps its holding")
				}
			}
			point := report.Backtest.EquityCurve[gap]
			assert.Greater(t, point.Gross, 0.9, "the book is not liquidated")
		})
	}
}

func TestWeightsFunc_DataGapAfterWarmupIsAnError(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B", "C"}, []string{"tech"})
	p := testutil.TrendingPanel(u, 80, []float64{0.002, 0, -0.002})
	for i := range u.Instruments {
		p.Fields[panel.FieldROE][i][70] = math.NaN()
	}
	runner := newTestRunner(testutil.NewMockLoader(u, p))

	// Too little history for a covariance: held in cash
	fn := runner.WeightsFunc(p, u, qualityStrategy(), 0)
	early, err := fn(context.Background(), p.Dates[0])
	require.NoError(t, err)
	assert.Empty(t, early)

	_, err = fn(context.Background(), p.Dates[30])
	require.NoError(t, err)

	_, err = fn(context.Background(), p.Dates[70])
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))

	// Past the warm-up date a gap fails even without earlier weights
	fresh := runner.WeightsFunc(p, u, qualityStrategy(), 0)
	_, err = fresh(context.Background(), p.Dates[70])
	assert.True(t, errors.Is(err, quanterr.ErrDataGap))
}

func TestMarketModel_FlatPanel(t *testing.T) {
	u := testutil.NewUniverse("core", []string{"A", "B"}, []string{"Tech", "energy"})
	p := testutil.FlatPanel(u, 30, 100)

	m := newMarketModel(p, 10)
	assert.Len(t, m.returns, 10)
	assert.Len(t, m.benchmark, 10)
	assert.Equal(t, []float64{0.5, 0.5}, m.weights)
	assert.Equal(t, []float64{1, 1}, m.betas)

	all := newMarketModel(p, 0)
	assert.Len(t, all.returns, 29)

	loadings, factors := factorLoadings(u, m.betas)
	assert.Equal(t, []string{MarketFactor, "tech", "energy"}, factors)
	assert.Equal(t, [][]float64{{1, 1, 0}, {1, 0, 1}}, loadings)

	adv := tradedValue(p, 20)
	assert.InDelta(t, 1e8, adv[0], 1e-3)
	assert.InDelta(t, 2e8, adv[1], 1e-3)
	assert.Equal(t, map[string]float64{"A": 50, "B": 55}, latest(p, "esg_score"))
}
