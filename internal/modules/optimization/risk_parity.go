package optimization

import (
	"context"
	"math"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

const (
	riskParityTolerance = 1e-10
	riskParityMaxSweeps = 1000
)

// RiskParityOptimizer finds weights whose risk contributions match target budgets.
type RiskParityOptimizer struct {
	log zerolog.Logger
}

// NewRiskParityOptimizer creates a new risk parity optimizer
func NewRiskParityOptimizer(log zerolog.Logger) *RiskParityOptimizer {
	return &RiskParityOptimizer{
		log: log.With().Str("component", "risk_parity").Logger(),
	}
}

// Solve runs cyclical coordinate descent on
//
//	min 1/2 y'Sigma y - sum b_i ln y_i,  y > 0
//
// starting from inverse-volatility weights, and rescales y to the budget.
// Instruments with a zero budget or marked inactive get zero weight.
func (rp *RiskParityOptimizer) Solve(ctx context.Context, cov [][]float64, budgets []float64, active []bool, budget float64) ([]float64, int, error) {
	const op = "risk parity"

	n := len(cov)
	b, err := normalizeBudgets(budgets, active, n)
	if err != nil {
		return nil, 0, err
	}

	idx := make([]int, 0, n)
	for i := range b {
		if b[i] > 0 {
			idx = append(idx, i)
		}
	}
	out := make([]float64, n)
	if len(idx) == 0 {
		return out, 0, nil
	}

	ridge := ridgeFor(cov)
	variance := func(i int) float64 { return math.Max(cov[i][i], 0) + ridge }

	y := make([]float64, n)
	for _, i := range idx {
		y[i] = 1.0 / math.Sqrt(variance(i))
	}

	sweeps := 0
	for sweeps < riskParityMaxSweeps {
		if err := quanterr.CheckContext(ctx, op); err != nil {
			return nil, sweeps, err
		}
		sweeps++
		change := 0.0
		for _, i := range idx {
			c := 0.0
			for _, j := range idx {
				if j != i {
					c += cov[i][j] * y[j]
				}
			}
			s := variance(i)
			next := (-c + math.Sqrt(c*c+4*s*b[i])) / (2 * s)
			if y[i] > 0 {
				change = math.Max(change, math.Abs(next-y[i])/y[i])
			}
			y[i] = next
		}
		if change < riskParityTolerance {
			break
		}
	}

	total := 0.0
	for _, i := range idx {
		total += y[i]
	}
	for _, i := range idx {
		out[i] = budget * y[i] / total
	}

	rp.log.Debug().
		Int("instruments", len(idx)).
		Int("sweeps", sweeps).
		Msg("Risk parity solve finished")
	return out, sweeps, nil
}

// RiskContributions returns each instrument's share of portfolio variance
func RiskContributions(w []float64, cov [][]float64) []float64 {
	n := len(w)
	out := make([]float64, n)
	variance := quadForm(cov, w)
	if variance <= 0 {
		return out
	}
	for i := 0; i < n; i++ {
		m := 0.0
		for j := 0; j < n; j++ {
			m += cov[i][j] * w[j]
		}
		out[i] = w[i] * m / variance
	}
	return out
}

func normalizeBudgets(budgets []float64, active []bool, n int) ([]float64, error) {
	const op = "risk parity"

	b := make([]float64, n)
	if budgets == nil {
		for i := range b {
			b[i] = 1
		}
	} else {
		if len(budgets) != n {
			return nil, quanterr.Alignment(op, "%d risk budgets for %d instruments", len(budgets), n)
		}
		for i, v := range budgets {
			if math.IsNaN(v) || v < 0 {
				return nil, quanterr.Configuration(op, "risk budget %d must be non-negative, got %v", i, v)
			}
			b[i] = v
		}
	}
	for i := range b {
		if active != nil && !active[i] {
			b[i] = 0
		}
	}
	total := sum(b)
	if total <= 0 {
		return nil, quanterr.Configuration(op, "risk budgets sum to zero")
	}
	for i := range b {
		b[i] /= total
	}
	return b, nil
}
