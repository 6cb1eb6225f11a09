package optimization

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

// MVOptimizer solves the mean-variance problem max mu'w - lambda w'Sigma w.
type MVOptimizer struct {
	log zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimizer
func NewMVOptimizer(log zerolog.Logger) *MVOptimizer {
	return &MVOptimizer{
		log: log.With().Str("component", "mean_variance").Logger(),
	}
}

// mvProblem is one mean-variance solve over the active instruments
type mvProblem struct {
	mu     []float64
	cov    [][]float64
	active []bool
	lambda float64
	// budget is enforced by a quadratic penalty when withBudget is set
	budget     float64
	withBudget bool
}

// Solve returns unprojected weights over all instruments (inactive ones are
// zero) and the number of solver iterations.
func (mvo *MVOptimizer) Solve(ctx context.Context, p mvProblem) ([]float64, int, error) {
	const op = "mean-variance"

	idx := make([]int, 0, len(p.mu))
	for i, a := range p.active {
		if a {
			idx = append(idx, i)
		}
	}
	out := make([]float64, len(p.mu))
	if len(idx) == 0 {
		return out, 0, nil
	}

	n := len(idx)
	sub := make([][]float64, n)
	for a, i := range idx {
		sub[a] = make([]float64, n)
		for b, j := range idx {
			sub[a][b] = p.cov[i][j]
		}
	}
	ridge := ridgeFor(sub)
	for a := range sub {
		sub[a][a] += ridge
	}
	mu := make([]float64, n)
	for a, i := range idx {
		mu[a] = p.mu[i]
	}
	penalty := 0.0
	if p.withBudget {
		penalty = budgetPenalty
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			obj := -dot(mu, x) + p.lambda*quadForm(sub, x)
			d := sum(x) - p.budget
			return obj + penalty*d*d
		},
		Grad: func(grad, x []float64) {
			d := sum(x) - p.budget
			for a := 0; a < n; a++ {
				g := -mu[a] + 2*penalty*d
				for b := 0; b < n; b++ {
					g += 2 * p.lambda * sub[a][b] * x[b]
				}
				grad[a] = g
			}
		},
	}

	initial := make([]float64, n)
	for a := range initial {
		initial[a] = p.budget / float64(n)
	}

	settings := &optimize.Settings{
		MajorIterations: defaultMaxIterations,
		Recorder:        &contextRecorder{ctx: ctx, op: op},
	}
	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil {
		if ctxErr := quanterr.CheckContext(ctx, op); ctxErr != nil {
			return nil, 0, ctxErr
		}
		mvo.log.Debug().Err(err).Msg("BFGS failed, retrying with Nelder-Mead")
		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			if ctxErr := quanterr.CheckContext(ctx, op); ctxErr != nil {
				return nil, 0, ctxErr
			}
			return nil, 0, fmt.Errorf("%s: optimization failed: %w", op, err)
		}
	}
	if result.Status == optimize.IterationLimit {
		mvo.log.Warn().Int("iterations", result.Stats.MajorIterations).Msg("Mean-variance solve hit the iteration limit")
	} else if !converged(result.Status) {
		return nil, result.Stats.MajorIterations, fmt.Errorf("%s: optimization did not converge: status=%v", op, result.Status)
	}

	for a, i := range idx {
		out[i] = result.X[a]
	}
	mvo.log.Debug().
		Int("instruments", n).
		Int("iterations", result.Stats.MajorIterations).
		Str("status", result.Status.String()).
		Msg("Mean-variance solve finished")
	return out, result.Stats.MajorIterations, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// contextRecorder aborts a gonum optimization once the context is done
type contextRecorder struct {
	ctx context.Context
	op  string
}

func (r *contextRecorder) Init() error {
	return quanterr.CheckContext(r.ctx, r.op)
}

func (r *contextRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return quanterr.CheckContext(r.ctx, r.op)
}
