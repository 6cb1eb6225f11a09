package optimization

import (
	"context"
	"math"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/rs/zerolog"
)

// Optimizer is the portfolio optimization service. It holds no state between calls.
type Optimizer struct {
	constraints *ConstraintsManager
	riskBuilder *RiskModelBuilder
	returns     *ReturnsCalculator
	mv          *MVOptimizer
	bl          *BlackLittermanOptimizer
	rp          *RiskParityOptimizer
	hrp         *HRPOptimizer
	log         zerolog.Logger
}

// NewOptimizer wires the solvers together
func NewOptimizer(log zerolog.Logger) *Optimizer {
	return &Optimizer{
		constraints: NewConstraintsManager(log),
		riskBuilder: NewRiskModelBuilder(log),
		returns:     NewReturnsCalculator(log),
		mv:          NewMVOptimizer(log),
		bl:          NewBlackLittermanOptimizer(log),
		rp:          NewRiskParityOptimizer(log),
		hrp:         NewHRPOptimizer(log),
		log:         log.With().Str("component", "optimizer").Logger(),
	}
}

// RiskModel exposes the covariance builder used by the optimizer
func (o *Optimizer) RiskModel() *RiskModelBuilder {
	return o.riskBuilder
}

// Optimize runs one optimization request end to end
func (o *Optimizer) Optimize(ctx context.Context, req Request) (*Result, error) {
	const op = "optimize"

	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	c := req.Constraints
	ids := req.Instruments
	n := len(ids)

	var (
		est *CovarianceEstimate
		err error
	)
	switch {
	case req.Covariance != nil:
		if len(req.Covariance) != n {
			return nil, quanterr.Alignment(op, "covariance is %dx%d but there are %d instruments", len(req.Covariance), len(req.Covariance), n)
		}
		est, err = o.riskBuilder.Shrink(req.Covariance, req.SampleSize, req.Shrinkage)
	case req.Returns != nil:
		est, err = o.riskBuilder.FromValues(req.Returns, req.Shrinkage)
		if err == nil && len(est.Matrix) != n {
			err = quanterr.Alignment(op, "returns cover %d instruments but there are %d", len(est.Matrix), n)
		}
	default:
		err = quanterr.Configuration(op, "either covariance or returns is required")
	}
	if err != nil {
		return nil, err
	}
	cov := est.Matrix

	lambda := req.RiskAversion
	if lambda == 0 {
		lambda = DefaultRiskAversion
	}

	var (
		mu       = make([]float64, n)
		pinned   = make([]bool, n)
		raw      []float64
		iters    int
		fallback string
	)
	if req.Signal != nil {
		var degenerate bool
		mu, pinned, degenerate = o.returns.ExpectedReturns(req.Signal, cov, req.SignalScale)
		if degenerate {
			fallback = "equal_weight"
		}
	} else if req.Method == MethodMeanVariance {
		return nil, quanterr.Configuration(op, "mean_variance requires a signal")
	}
	active := make([]bool, n)
	for i := range active {
		active[i] = !pinned[i]
	}

	budget := c.Budget()
	switch {
	case fallback != "" && req.Method == MethodMeanVariance:
		raw = make([]float64, n)
		for i := range raw {
			raw[i] = budget / float64(n)
		}
	case req.Method == MethodMeanVariance || req.Method == MethodBlackLitterman:
		if req.Method == MethodBlackLitterman {
			prior, err := o.bl.ExpectedReturns(ids, cov, req.BlackLitterman)
			if err != nil {
				return nil, err
			}
			for i := range mu {
				if !pinned[i] {
					mu[i] = prior[i]
				}
			}
			fallback = ""
		}
		raw, iters, err = o.mv.Solve(ctx, mvProblem{
			mu:         mu,
			cov:        cov,
			active:     active,
			lambda:     lambda,
			budget:     budget,
			withBudget: c.LongOnly,
		})
	case req.Method == MethodRiskParity:
		// Risk-based methods never read expected returns
		fallback = ""
		raw, iters, err = o.rp.Solve(ctx, cov, req.RiskBudgets, active, budget)
	case req.Method == MethodHRP:
		fallback = ""
		var linkage Linkage
		if linkage, err = ParseLinkage(req.Linkage); err == nil {
			raw, err = o.hrp.Solve(ctx, cov, active, linkage, budget)
		}
	}
	if err != nil {
		return nil, err
	}

	b, err := o.constraints.BuildBounds(ids, req.Sectors, c, pinned, req.ADVRatio)
	if err != nil {
		return nil, err
	}
	w, projIters, err := o.constraints.Enforce(ctx, raw, b, c, riskInputs{
		cov:       cov,
		betas:     req.Betas,
		benchmark: req.Benchmark,
	})
	if err != nil {
		return nil, err
	}

	diag := diagnose(w, mu, cov)
	diag.Method = req.Method
	diag.Shrinkage = est.Shrinkage
	diag.Iterations = iters
	diag.ProjectionIter = projIters
	diag.Fallback = fallback

	o.log.Info().
		Str("method", string(req.Method)).
		Int("instruments", n).
		Int("positions", diag.NumPositions).
		Float64("gross", diag.Gross).
		Str("fallback", fallback).
		Msg("Optimization complete")

	return &Result{
		Weights:     domain.WeightsFromVector(ids, w),
		Diagnostics: diag,
	}, nil
}

func validateRequest(req *Request) error {
	const op = "optimize"

	if req.Method == "" {
		req.Method = MethodMeanVariance
	}
	switch req.Method {
	case MethodMeanVariance, MethodBlackLitterman, MethodRiskParity, MethodHRP:
	default:
		return quanterr.Configuration(op, "unknown method %q", req.Method)
	}
	n := len(req.Instruments)
	if n == 0 {
		return quanterr.Configuration(op, "no instruments")
	}
	seen := make(map[string]bool, n)
	for _, id := range req.Instruments {
		if seen[id] {
			return quanterr.Configuration(op, "duplicate instrument %q", id)
		}
		seen[id] = true
	}
	if req.RiskAversion < 0 || math.IsNaN(req.RiskAversion) {
		return quanterr.Configuration(op, "risk_aversion must be non-negative, got %v", req.RiskAversion)
	}

	aligned := []struct {
		name string
		size int
	}{
		{"signal", len(req.Signal)},
		{"betas", len(req.Betas)},
		{"benchmark", len(req.Benchmark)},
		{"adv_ratio", len(req.ADVRatio)},
		{"risk_budgets", len(req.RiskBudgets)},
	}
	for _, a := range aligned {
		if a.size != 0 && a.size != n {
			return quanterr.Alignment(op, "%s has %d entries for %d instruments", a.name, a.size, n)
		}
	}
	return req.Constraints.Validate()
}

func diagnose(w, mu []float64, cov [][]float64) Diagnostics {
	d := Diagnostics{
		ExpectedReturn: dot(mu, w),
		Volatility:     math.Sqrt(math.Max(0, quadForm(cov, w))),
		Herfindahl:     formulas.Herfindahl(w),
		Gross:          sumAbs(w),
		Net:            sum(w),
	}
	if d.Volatility > 0 {
		d.Sharpe = d.ExpectedReturn / d.Volatility
	}
	if d.Herfindahl > 0 {
		d.EffectiveN = 1 / d.Herfindahl
	}
	for _, v := range w {
		if math.Abs(v) > PositionEpsilon {
			d.NumPositions++
		}
	}
	return d
}
