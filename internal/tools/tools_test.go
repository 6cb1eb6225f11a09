package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/quanterr"
	testutil "github.com/aristath/quantcore/internal/testing"
	"github.com/aristath/quantcore/internal/work"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type jobLog struct {
	mu   sync.Mutex
	jobs []work.Job
}

func (l *jobLog) JobQueued(job work.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs = append(l.jobs, job)
}
func (l *jobLog) JobStarted(work.Job, time.Duration)                {}
func (l *jobLog) JobFinished(work.Job, work.Outcome, time.Duration) {}

type verdicts struct {
	mu     sync.Mutex
	counts map[string]int
}

func (v *verdicts) RecordVerdict(ruleset, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[ruleset+"/"+status]++
}

func intPtr(v int) *int { return &v }

func newTestService(t *testing.T) (*Service, *jobLog, *verdicts) {
	t.Helper()
	log := zerolog.Nop()

	u := testutil.NewUniverse("core", []string{"A", "B", "C", "D"}, []string{"tech", "energy"})
	loader := panel.NewMemoryLoader()
	require.NoError(t, loader.Put(u, testutil.TrendingPanel(u, 90, []float64{0.002, -0.001, 0.001, -0.002})))

	jobs := &jobLog{}
	recorded := &verdicts{counts: map[string]int{}}
	sig := signals.NewEngine(log)
	opt := optimization.NewOptimizer(log)
	riskEngine := risk.NewEngine(log)
	complianceEngine := compliance.NewEngine(log)
	bt := backtest.NewEngine(log)

	svc := NewService(Deps{
		Pool:       work.NewPool(2, 2, jobs, log),
		Loader:     loader,
		Signals:    sig,
		Optimizer:  opt,
		Backtester: bt,
		Risk:       riskEngine,
		Compliance: complianceEngine,
		Runner:     pipeline.NewRunner(loader, sig, opt, riskEngine, complianceEngine, bt, log),
		Verdicts:   recorded,
	}, log)
	return svc, jobs, recorded
}

func momentumRecipe() signals.Recipe {
	return signals.Recipe{
		Factors: map[string]signals.FactorConfig{
			signals.FactorMomentum: {Enabled: true, Weight: 1, Lookback: intPtr(20)},
		},
		Pipeline:    signals.PipelineConfig{ZScore: true},
		Combination: signals.CombinationConfig{Method: signals.CombineWeightedSum},
	}
}

func TestComputeSignals_RunsAsTenantJob(t *testing.T) {
	svc, jobs, _ := newTestService(t)
	ctx := WithTenant(context.Background(), "acme")

	res, err := svc.ComputeSignals(ctx, SignalRequest{UniverseID: "core", Recipe: momentumRecipe(), WithIC: true})
	require.NoError(t, err)

	latest := res.Latest()
	assert.Greater(t, latest["A"], latest["D"])
	assert.NotNil(t, res.Diagnostics.IC)

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, KindSignalCompute, jobs.jobs[0].Kind)
	assert.Equal(t, "acme", jobs.jobs[0].Tenant)
	assert.NotEmpty(t, jobs.jobs[0].ID)
}

func TestTenantFrom_Default(t *testing.T) {
	assert.Equal(t, work.DefaultTenant, TenantFrom(context.Background()))
	assert.Equal(t, work.DefaultTenant, TenantFrom(WithTenant(context.Background(), "")))
}

func TestOptimize_EstimatesCovarianceFromUniverse(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Optimize(context.Background(), OptimizeRequest{
		UniverseID:   "core",
		LookbackDays: 60,
		Request: optimization.Request{
			Method:      optimization.MethodRiskParity,
			Constraints: optimization.Constraints{LongOnly: true},
		},
	})
	require.NoError(t, err)
	assert.Len(t, res.Weights, 4)
	assert.InDelta(t, 1.0, res.Weights.Net(), 1e-6)
}

func TestOptimize_ExplicitInputsSkipTheLoader(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Optimize(context.Background(), OptimizeRequest{
		UniverseID: "missing",
		Request: optimization.Request{
			Instruments: []string{"X", "Y"},
			Signal:      domain.Values{1, -1},
			Covariance:  [][]float64{{0.04, 0}, {0, 0.04}},
			Constraints: optimization.Constraints{LongOnly: true},
		},
	})
	require.NoError(t, err)
	assert.Greater(t, res.Weights["X"], res.Weights["Y"])
}

func TestRunBacktest(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.RunBacktest(context.Background(), BacktestRequest{
		UniverseID: "core",
		Strategy: pipeline.Strategy{
			Recipe:       momentumRecipe(),
			Constraints:  optimization.Constraints{MaxPosition: 0.5, LongOnly: true},
			LookbackDays: 40,
		},
		Costs:     backtest.DefaultCosts(),
		Rebalance: backtest.Rebalance{Cadence: backtest.CadenceWeekly},
	})
	require.NoError(t, err)
	assert.Len(t, res.EquityCurve, 90)
	assert.NotEmpty(t, res.Trades)
}

func TestRunBacktest_InvalidStrategy(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.RunBacktest(context.Background(), BacktestRequest{
		UniverseID: "core",
		Strategy:   pipeline.Strategy{Recipe: momentumRecipe(), Method: optimization.MethodBlackLitterman},
	})
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}

func TestCheckCompliance_RecordsVerdict(t *testing.T) {
	svc, _, recorded := newTestService(t)

	report, err := svc.CheckCompliance(context.Background(), ComplianceRequest{
		Proposal: compliance.Proposal{Weights: domain.Weights{"A": 0.5, "B": 0.5}},
	})
	require.NoError(t, err)
	assert.Equal(t, compliance.StatusBlock, report.OverallStatus)
	assert.Equal(t, 1, recorded.counts["long_only_fund/BLOCK"])

	_, err = svc.CheckCompliance(context.Background(), ComplianceRequest{RulesetName: "pension_fund"})
	assert.True(t, errors.Is(err, quanterr.ErrConfiguration))
}

func TestRiskAndStress(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.RiskMetrics(ctx, risk.MetricsRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 0.6, "B": 0.4},
		Covariance:  [][]float64{{0.0004, 0}, {0, 0.0001}},
		Method:      risk.MethodParametric,
	})
	require.NoError(t, err)
	assert.Less(t, m.VaR95, 0.0)

	report, err := svc.Stress(ctx, risk.StressRequest{
		Instruments: []string{"A", "B"},
		Weights:     domain.Weights{"A": 0.6, "B": 0.4},
		Loadings:    [][]float64{{1.2}, {0.8}},
		Factors:     []string{"market"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.Results)
}

func TestRunPipeline(t *testing.T) {
	svc, _, recorded := newTestService(t)

	report, err := svc.RunPipeline(context.Background(), pipeline.Spec{
		UniverseID: "core",
		Strategy: pipeline.Strategy{
			Recipe:      momentumRecipe(),
			Constraints: optimization.Constraints{MaxPosition: 0.5, LongOnly: true},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, recorded.counts["long_only_fund/"+string(report.Compliance.OverallStatus)])
}

func TestCalls_ExpiredDeadline(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := svc.ComputeSignals(ctx, SignalRequest{UniverseID: "core", Recipe: momentumRecipe()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, quanterr.ErrDeadlineExceeded))
}
