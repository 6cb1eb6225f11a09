package pipeline

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/quanterr"
)

// Validate checks the strategy before any data is loaded
func (s *Strategy) Validate() error {
	const op = "strategy"

	if err := s.Recipe.Validate(); err != nil {
		return err
	}
	switch s.Method {
	case "", optimization.MethodMeanVariance, optimization.MethodRiskParity, optimization.MethodHRP:
	case optimization.MethodBlackLitterman:
		return quanterr.Configuration(op, "black_litterman needs explicit views; call the optimizer directly")
	default:
		return quanterr.Configuration(op, "unknown method %q", s.Method)
	}
	if s.LookbackDays < 0 || s.LookbackDays == 1 {
		return quanterr.Configuration(op, "lookback_days must be 0 (default) or at least 2, got %d", s.LookbackDays)
	}
	return s.Constraints.Validate()
}

func (s *Strategy) lookback() int {
	if s.LookbackDays == 0 {
		return optimization.DefaultLookbackDays
	}
	return s.LookbackDays
}

// warmup is the first date index with a full history for every factor and
// for the covariance estimate
func (s *Strategy) warmup() int {
	return max(s.lookback(), s.Recipe.MaxLookback())
}

// target is the strategy evaluated on the last date of a panel
type target struct {
	signals    *signals.Result
	latest     domain.Values
	covariance *optimization.CovarianceEstimate
	market     *marketModel
	portfolio  *optimization.Result
}

// evaluate scores the panel and optimizes the scores on its last date.
// A panel where no instrument has a signal yet is a data gap.
func (r *Runner) evaluate(ctx context.Context, p *panel.Panel, universe *domain.Universe, s Strategy, nav float64) (*target, error) {
	const op = "strategy"

	// Step 1: Signals
	res, err := r.signals.Compute(ctx, p, universe, s.Recipe, nil)
	if err != nil {
		return nil, err
	}
	if len(res.Combined) == 0 {
		return nil, quanterr.DataGap(op, "panel has no dates")
	}
	latest := res.Combined[len(res.Combined)-1]
	finite := 0
	for _, v := range latest {
		if !math.IsNaN(v) {
			finite++
		}
	}
	if finite == 0 {
		return nil, quanterr.DataGap(op, "no instrument has a signal on %s", p.Dates[p.NumDates()-1].Format("2006-01-02"))
	}

	// Step 2: Covariance and market model
	lookback := s.lookback()
	est, err := r.optimizer.RiskModel().FromPanel(p, lookback)
	if err != nil {
		return nil, err
	}
	market := newMarketModel(p, lookback)

	adv := tradedValue(p, DefaultADVWindow)
	advRatio := make([]float64, len(adv))
	for i, v := range adv {
		advRatio[i] = v / nav
	}

	// Step 3: Optimize on the already shrunk matrix
	noShrinkage := 0.0
	result, err := r.optimizer.Optimize(ctx, optimization.Request{
		Method:       s.Method,
		Instruments:  universe.IDs(),
		Sectors:      universe.SectorOf(),
		Signal:       latest,
		Covariance:   est.Matrix,
		Shrinkage:    &noShrinkage,
		RiskAversion: s.RiskAversion,
		SignalScale:  s.SignalScale,
		Betas:        market.betas,
		Benchmark:    market.weights,
		ADVRatio:     advRatio,
		Linkage:      s.Linkage,
		Constraints:  s.Constraints,
	})
	if err != nil {
		return nil, err
	}

	return &target{
		signals:    res,
		latest:     latest,
		covariance: est,
		market:     market,
		portfolio:  result,
	}, nil
}

// WeightsFunc re-runs the strategy at each rebalance date on the history
// known at that date. Dates must be visited in ascending order.
//
// Until the strategy has a full lookback, a data gap holds the book in cash.
// Once it has produced weights or passed its warm-up date, a data gap is
// returned to the caller. Instruments without a signal get a NaN target so
// the backtester keeps their holding and counts them as invalid.
func (r *Runner) WeightsFunc(p *panel.Panel, universe *domain.Universe, s Strategy, nav float64) backtest.WeightsFunc {
	if nav <= 0 {
		nav = DefaultNAV
	}
	warmup := s.warmup()
	ready := false
	return func(ctx context.Context, date time.Time) (domain.Weights, error) {
		t, ok := p.DateIndex(date)
		if !ok {
			return nil, quanterr.Alignment("strategy", "rebalance date %s is not in the panel", date.Format("2006-01-02"))
		}

		tgt, err := r.evaluate(ctx, p.Window(0, t), universe, s, nav)
		if errors.Is(err, quanterr.ErrDataGap) && !ready && t < warmup {
			r.log.Debug().Err(err).Time("date", date).Msg("Holding cash until history is sufficient")
			return domain.Weights{}, nil
		}
		if err != nil {
			return nil, err
		}
		ready = true

		weights := make(domain.Weights, len(universe.Instruments))
		for id, w := range tgt.portfolio.Weights {
			weights[id] = w
		}
		for i, id := range universe.IDs() {
			if math.IsNaN(tgt.latest[i]) {
				weights[id] = math.NaN()
			}
		}
		return weights, nil
	}
}
