package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/internal/work"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fanOutLimit bounds the parallel stages of one run
const fanOutLimit = 3

// Runner executes pipeline runs. It holds no per-run state.
type Runner struct {
	loader     panel.Loader
	signals    *signals.Engine
	optimizer  *optimization.Optimizer
	risk       risk.RiskEngine
	compliance compliance.ComplianceEngine
	backtester backtest.Backtester
	log        zerolog.Logger
	now        func() time.Time
}

// NewRunner creates a runner over the given components
func NewRunner(
	loader panel.Loader,
	signalEngine *signals.Engine,
	optimizer *optimization.Optimizer,
	riskEngine risk.RiskEngine,
	complianceEngine compliance.ComplianceEngine,
	backtester backtest.Backtester,
	log zerolog.Logger,
) *Runner {
	return &Runner{
		loader:     loader,
		signals:    signalEngine,
		optimizer:  optimizer,
		risk:       riskEngine,
		compliance: complianceEngine,
		backtester: backtester,
		log:        log.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
	}
}

// SetClock replaces the clock used for run timestamps
func (r *Runner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes one pipeline run end to end
func (r *Runner) Run(ctx context.Context, spec Spec) (*RunReport, error) {
	const op = "pipeline"

	ruleset, err := spec.resolve()
	if err != nil {
		return nil, err
	}
	nav := spec.NAV
	if nav == 0 {
		nav = DefaultNAV
	}

	report := &RunReport{
		RunID:      uuid.New().String(),
		UniverseID: spec.UniverseID,
		StartedAt:  r.now().UTC(),
	}
	log := r.log.With().Str("run_id", report.RunID).Str("universe", spec.UniverseID).Logger()
	log.Info().Msg("Pipeline run started")

	var timingsMu sync.Mutex
	timed := func(stage string, fn func() error) error {
		start := time.Now()
		err := fn()
		timingsMu.Lock()
		report.Timings = append(report.Timings, StageTiming{
			Stage:  stage,
			Millis: float64(time.Since(start).Microseconds()) / 1000,
		})
		timingsMu.Unlock()
		return err
	}

	// Step 1: Load the universe and its panel
	var (
		universe *domain.Universe
		p        *panel.Panel
	)
	err = timed("load", func() error {
		var err error
		if universe, err = r.loader.Universe(ctx, spec.UniverseID); err != nil {
			return err
		}
		p, err = r.loader.Load(ctx, panel.Request{UniverseID: spec.UniverseID, From: spec.From, To: spec.To})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if p.NumDates() == 0 {
		return nil, quanterr.DataGap(op, "universe %s has no data in the requested range", spec.UniverseID)
	}
	report.AsOf = p.Dates[p.NumDates()-1]

	// Step 2: Signals, covariance and the optimized portfolio
	var tgt *target
	if err := timed("optimize", func() error {
		var err error
		tgt, err = r.evaluate(ctx, p, universe, spec.Strategy, nav)
		return err
	}); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	report.Signals = make(map[string]float64, len(universe.Instruments))
	for i, id := range universe.IDs() {
		report.Signals[id] = tgt.latest[i]
	}
	report.Diagnostics = tgt.signals.Diagnostics
	report.Covariance = *tgt.covariance
	report.Portfolio = *tgt.portfolio

	// Step 3: Portfolio risk, which compliance reads
	loadings, factors := factorLoadings(universe, tgt.market.betas)
	if err := timed("risk", func() error {
		m, err := r.risk.Metrics(ctx, risk.MetricsRequest{
			Instruments: universe.IDs(),
			Weights:     tgt.portfolio.Weights,
			Returns:     tgt.market.returns,
			Covariance:  tgt.covariance.Matrix,
			Benchmark:   tgt.market.benchmark,
			Loadings:    loadings,
			Factors:     factors,
			Sectors:     universe.SectorOf(),
			Method:      spec.RiskMethod,
		})
		if err != nil {
			return err
		}
		report.Risk = *m
		return nil
	}); err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}

	// Step 4: Stress, compliance and backtest in parallel
	stages := []work.Stage{
		{Name: "stress", Run: func(ctx context.Context) error {
			return timed("stress", func() error {
				s, err := r.risk.Stress(ctx, risk.StressRequest{
					Instruments: universe.IDs(),
					Weights:     tgt.portfolio.Weights,
					Loadings:    loadings,
					Factors:     factors,
					Scenarios:   spec.Scenarios,
					NAV:         nav,
					Liquidity: &risk.LiquidityRequest{
						NAV: nav,
						ADV: tradedValue(p, DefaultADVWindow),
					},
				})
				if err != nil {
					return err
				}
				report.Stress = *s
				return nil
			})
		}},
		{Name: "compliance", Run: func(ctx context.Context) error {
			return timed("compliance", func() error {
				c, err := r.compliance.Check(ctx,
					compliance.Proposal{Weights: tgt.portfolio.Weights},
					*ruleset,
					complianceContext(p, universe, tgt, &report.Risk, nav, spec.Strict),
				)
				if err != nil {
					return err
				}
				report.Compliance = *c
				return nil
			})
		}},
	}
	if spec.Backtest != nil {
		stages = append(stages, work.Stage{Name: "backtest", Run: func(ctx context.Context) error {
			return timed("backtest", func() error {
				b, err := r.backtester.Run(ctx, p, universe,
					r.WeightsFunc(p, universe, spec.Strategy, nav),
					spec.Backtest.Costs,
					spec.Backtest.Rebalance,
				)
				if err != nil {
					return err
				}
				report.Backtest = b
				return nil
			})
		}})
	}
	if err := work.Fan(ctx, fanOutLimit, stages...); err != nil {
		log.Error().Err(err).Msg("Pipeline run failed")
		return nil, err
	}

	report.FinishedAt = r.now().UTC()
	log.Info().
		Str("verdict", string(report.Compliance.OverallStatus)).
		Int("positions", report.Portfolio.Diagnostics.NumPositions).
		Float64("var_95", report.Risk.VaR95).
		Bool("backtest", report.Backtest != nil).
		Msg("Pipeline run complete")

	return report, nil
}

// Validate checks the spec without touching data
func (s *Spec) Validate() error {
	_, err := s.resolve()
	return err
}

func (s *Spec) resolve() (*compliance.Ruleset, error) {
	const op = "pipeline"

	if s.UniverseID == "" {
		return nil, quanterr.Configuration(op, "universe_id is required")
	}
	if s.NAV < 0 {
		return nil, quanterr.Configuration(op, "nav must be positive, got %v", s.NAV)
	}
	if s.Strategy.Recipe.UniverseID != "" && s.Strategy.Recipe.UniverseID != s.UniverseID {
		return nil, quanterr.Configuration(op, "recipe is for universe %s, run is for %s", s.Strategy.Recipe.UniverseID, s.UniverseID)
	}
	if err := s.Strategy.Validate(); err != nil {
		return nil, err
	}
	if s.Backtest != nil {
		if err := s.Backtest.Costs.Validate(); err != nil {
			return nil, err
		}
		if _, err := backtest.ParseCadence(string(s.Backtest.Rebalance.Cadence)); err != nil {
			return nil, err
		}
	}

	ruleset := s.Ruleset
	if ruleset == nil {
		name := s.RulesetName
		if name == "" {
			name = compliance.LongOnlyFund().Name
		}
		var err error
		if ruleset, err = compliance.BuiltinRuleset(name); err != nil {
			return nil, err
		}
	}
	if err := ruleset.Validate(); err != nil {
		return nil, err
	}
	return ruleset, nil
}

// complianceContext gathers the reference data the rules need from the
// universe, the panel and the risk stage.
func complianceContext(p *panel.Panel, universe *domain.Universe, tgt *target, m *risk.RiskMetrics, nav float64, strict bool) compliance.Context {
	cc := compliance.Context{
		Sectors:   universe.SectorOf(),
		Countries: map[string]string{},
		ESGScores: latest(p, panel.FieldESGScore),
		ADVRatios: map[string]float64{},
		Betas:     map[string]float64{},
		VaR95:     &m.VaR95,
		Strict:    strict,
	}
	for _, inst := range universe.Instruments {
		if inst.Country != "" {
			cc.Countries[inst.ID] = inst.Country
		}
	}
	for i, id := range universe.IDs() {
		cc.Betas[id] = tgt.market.betas[i]
	}
	for i, v := range tradedValue(p, DefaultADVWindow) {
		if v == v {
			cc.ADVRatios[universe.Instruments[i].ID] = v / nav
		}
	}
	if m.Beta != nil {
		cc.PortfolioBeta = m.Beta
	}
	if m.TrackingError != nil {
		cc.TrackingError = m.TrackingError
	}
	return cc
}
