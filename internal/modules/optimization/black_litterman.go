package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/rs/zerolog"
)

// View types
const (
	ViewAbsolute = "absolute"
	ViewRelative = "relative"
)

// BlackLittermanOptimizer blends equilibrium returns with views.
type BlackLittermanOptimizer struct {
	log zerolog.Logger
}

// NewBlackLittermanOptimizer creates a new Black-Litterman optimizer
func NewBlackLittermanOptimizer(log zerolog.Logger) *BlackLittermanOptimizer {
	if log.GetLevel() == zerolog.Disabled {
		log = zerolog.Nop()
	}
	return &BlackLittermanOptimizer{
		log: log.With().Str("component", "black_litterman").Logger(),
	}
}

// CalculateMarketEquilibrium computes the implied returns pi = delta Sigma w_mkt
func (bl *BlackLittermanOptimizer) CalculateMarketEquilibrium(marketWeights []float64, cov [][]float64, delta float64) []float64 {
	n := len(cov)
	sigma := toSymDense(cov, 0)
	w := mat.NewVecDense(n, append([]float64(nil), marketWeights...))

	var sigmaW mat.VecDense
	sigmaW.MulVec(sigma, w)

	pi := make([]float64, n)
	for i := 0; i < n; i++ {
		pi[i] = delta * sigmaW.AtVec(i)
	}
	return pi
}

// BuildViews turns view records into the pick matrix P, the view returns Q
// and per-view confidences (0 when unset).
func (bl *BlackLittermanOptimizer) BuildViews(views []View, ids []string) (*mat.Dense, []float64, []float64, error) {
	const op = "black-litterman"

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	lookup := func(k int, id string) (int, error) {
		i, ok := index[id]
		if !ok {
			return 0, quanterr.Configuration(op, "view %d references unknown instrument %q", k, id)
		}
		return i, nil
	}

	P := mat.NewDense(len(views), len(ids), nil)
	Q := make([]float64, len(views))
	conf := make([]float64, len(views))
	for k, v := range views {
		if v.Confidence < 0 || v.Confidence > 1 || math.IsNaN(v.Confidence) {
			return nil, nil, nil, quanterr.Configuration(op, "view %d confidence %v outside [0, 1]", k, v.Confidence)
		}
		Q[k] = v.Return
		conf[k] = v.Confidence
		switch v.Type {
		case ViewAbsolute:
			i, err := lookup(k, v.Instrument)
			if err != nil {
				return nil, nil, nil, err
			}
			P.Set(k, i, 1.0)
		case ViewRelative:
			i, err := lookup(k, v.Outperformer)
			if err != nil {
				return nil, nil, nil, err
			}
			j, err := lookup(k, v.Underperformer)
			if err != nil {
				return nil, nil, nil, err
			}
			if i == j {
				return nil, nil, nil, quanterr.Configuration(op, "view %d compares %q with itself", k, v.Outperformer)
			}
			P.Set(k, i, 1.0)
			P.Set(k, j, -1.0)
		default:
			return nil, nil, nil, quanterr.Configuration(op, "view %d has unknown type %q", k, v.Type)
		}
	}
	return P, Q, conf, nil
}

// Posterior returns the Black-Litterman posterior mean
//
//	mu = pi + tau Sigma P' (P tau Sigma P' + Omega)^-1 (Q - P pi)
//
// which equals [(tau Sigma)^-1 + P' Omega^-1 P]^-1 [(tau Sigma)^-1 pi + P' Omega^-1 Q]
// without inverting Sigma. A nil omega defaults to diag(P tau Sigma P'),
// scaled by (1-c)/c for views with confidence c.
func (bl *BlackLittermanOptimizer) Posterior(pi []float64, cov [][]float64, P *mat.Dense, Q []float64, omega [][]float64, conf []float64, tau float64) ([]float64, error) {
	const op = "black-litterman"

	n := len(pi)
	k, cols := P.Dims()
	if cols != n {
		return nil, quanterr.Alignment(op, "pick matrix has %d columns for %d instruments", cols, n)
	}
	if len(Q) != k {
		return nil, quanterr.Alignment(op, "%d view returns for %d views", len(Q), k)
	}
	if k == 0 {
		return append([]float64(nil), pi...), nil
	}

	var tauSigma mat.Dense
	tauSigma.Scale(tau, toSymDense(cov, 0))

	var tauSigmaPT mat.Dense
	tauSigmaPT.Mul(&tauSigma, P.T())

	var viewCov mat.Dense
	viewCov.Mul(P, &tauSigmaPT)

	A := mat.DenseCopyOf(&viewCov)
	if omega != nil {
		if len(omega) != k {
			return nil, quanterr.Alignment(op, "omega is %dx%d for %d views", len(omega), len(omega), k)
		}
		for r := 0; r < k; r++ {
			if len(omega[r]) != k {
				return nil, quanterr.Alignment(op, "omega row %d has %d columns for %d views", r, len(omega[r]), k)
			}
			for c := 0; c < k; c++ {
				A.Set(r, c, A.At(r, c)+omega[r][c])
			}
		}
	} else {
		for r := 0; r < k; r++ {
			base := viewCov.At(r, r)
			w := base
			if conf != nil && conf[r] > 0 {
				w = base * (1 - conf[r]) / conf[r]
			}
			A.Set(r, r, A.At(r, r)+math.Max(w, 1e-12))
		}
	}

	piVec := mat.NewVecDense(n, append([]float64(nil), pi...))
	var pPi mat.VecDense
	pPi.MulVec(P, piVec)
	diff := mat.NewVecDense(k, nil)
	for r := 0; r < k; r++ {
		diff.SetVec(r, Q[r]-pPi.AtVec(r))
	}

	var x mat.VecDense
	if err := x.SolveVec(A, diff); err != nil {
		return nil, fmt.Errorf("%s: failed to solve the view system: %w", op, err)
	}

	var adj mat.VecDense
	adj.MulVec(&tauSigmaPT, &x)

	mu := make([]float64, n)
	for i := 0; i < n; i++ {
		mu[i] = pi[i] + adj.AtVec(i)
	}
	return mu, nil
}

// ExpectedReturns runs the full prior-plus-views computation for a request
func (bl *BlackLittermanOptimizer) ExpectedReturns(ids []string, cov [][]float64, in *BlackLittermanInputs) ([]float64, error) {
	const op = "black-litterman"

	n := len(ids)
	if in == nil {
		in = &BlackLittermanInputs{}
	}
	tau, delta := in.Tau, in.Delta
	if tau == 0 {
		tau = DefaultTau
	}
	if delta == 0 {
		delta = DefaultRiskAversion
	}
	if tau < 0 || delta < 0 {
		return nil, quanterr.Configuration(op, "tau and delta must be positive, got %v and %v", tau, delta)
	}

	market := in.MarketWeights
	if market == nil {
		market = make([]float64, n)
		for i := range market {
			market[i] = 1.0 / float64(n)
		}
	} else if len(market) != n {
		return nil, quanterr.Alignment(op, "%d market weights for %d instruments", len(market), n)
	}
	pi := bl.CalculateMarketEquilibrium(market, cov, delta)

	var (
		P    *mat.Dense
		Q    []float64
		conf []float64
		err  error
	)
	switch {
	case len(in.Views) > 0 && len(in.P) > 0:
		return nil, quanterr.Configuration(op, "give views either as records or as a pick matrix, not both")
	case len(in.Views) > 0:
		P, Q, conf, err = bl.BuildViews(in.Views, ids)
		if err != nil {
			return nil, err
		}
	case len(in.P) > 0:
		P = mat.NewDense(len(in.P), n, nil)
		for r, row := range in.P {
			if len(row) != n {
				return nil, quanterr.Alignment(op, "pick matrix row %d has %d columns for %d instruments", r, len(row), n)
			}
			P.SetRow(r, row)
		}
		Q = in.Q
	default:
		bl.log.Debug().Msg("No views, using equilibrium returns")
		return pi, nil
	}

	mu, err := bl.Posterior(pi, cov, P, Q, in.Omega, conf, tau)
	if err != nil {
		return nil, err
	}
	rows, _ := P.Dims()
	bl.log.Debug().Int("views", rows).Float64("tau", tau).Msg("Blended views with equilibrium")
	return mu, nil
}
