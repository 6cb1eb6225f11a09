package risk

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/quantcore/internal/quanterr"
	"github.com/aristath/quantcore/pkg/formulas"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// Engine computes risk metrics and stress tests. It holds no state between calls.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a risk engine
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("component", "risk_engine").Logger(),
	}
}

// Metrics computes VaR/ES under every method plus volatility, beta, tracking
// error and factor and sector exposures.
func (e *Engine) Metrics(ctx context.Context, req MetricsRequest) (*RiskMetrics, error) {
	const op = "risk.metrics"

	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}
	w, err := weightVector(op, req.Instruments, req.Weights)
	if err != nil {
		return nil, err
	}
	n := len(w)
	if err := validateMetricsRequest(op, req, n); err != nil {
		return nil, err
	}

	// Step 1: Portfolio return series
	history := make([][]float64, len(req.Returns))
	for t, row := range req.Returns {
		history[t] = row
	}
	series, rows := portfolioReturns(history, w)
	if dropped := len(req.Returns) - len(series); dropped > 0 {
		e.log.Debug().Int("dropped", dropped).Msg("Skipped return rows with gaps in held instruments")
	}
	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}

	// Step 2: Moments
	m := &RiskMetrics{Observations: len(series)}
	switch {
	case req.Covariance != nil:
		m.Volatility = math.Sqrt(math.Max(0, quadForm(req.Covariance, w)))
	case len(series) >= 2:
		m.Volatility = formulas.StdDev(series)
	default:
		return nil, quanterr.DataGap(op, "need a covariance matrix or at least 2 return observations, have %d", len(series))
	}
	m.AnnualizedVolatility = m.Volatility * math.Sqrt(formulas.TradingDaysPerYear)
	switch {
	case req.Expected != nil:
		m.ExpectedReturn = dot(req.Expected, w)
	case len(series) > 0:
		m.ExpectedReturn = formulas.Mean(series)
	}
	if len(series) >= MinHistory {
		m.Skewness = formulas.Skewness(series)
		m.ExcessKurtosis = formulas.ExcessKurtosis(series)
	}

	// Step 3: Tail estimates
	m.Parametric = parametricTail(m.ExpectedReturn, m.Volatility)
	m.CornishFisher = cornishFisherTail(m.ExpectedReturn, m.Volatility, m.Skewness, m.ExcessKurtosis)
	if len(series) > 0 {
		m.Historical = historicalTail(series)
	}

	method := req.Method
	if method == "" {
		method = MethodParametric
		if len(series) >= MinHistory {
			method = MethodHistorical
		}
	}
	var headline TailMetrics
	switch method {
	case MethodHistorical:
		if len(series) == 0 {
			return nil, quanterr.DataGap(op, "historical VaR needs return history")
		}
		headline = m.Historical
	case MethodParametric:
		headline = m.Parametric
	case MethodCornishFisher:
		headline = m.CornishFisher
	}
	m.Method = method
	m.VaR95, m.VaR99 = headline.VaR95, headline.VaR99
	m.ES95, m.ES97, m.ES99 = headline.ES95, headline.ES97, headline.ES99

	// Step 4: Benchmark relative
	if req.Benchmark != nil {
		m.Beta, m.TrackingError = benchmarkRelative(series, rows, req.Benchmark)
	}

	// Step 5: Exposures
	m.FactorExposures, err = FactorExposures(w, req.Loadings, req.Factors)
	if err != nil {
		return nil, err
	}
	m.SectorExposures = SectorExposures(req.Instruments, w, req.Sectors)

	e.log.Debug().
		Str("method", string(method)).
		Int("observations", m.Observations).
		Float64("var_95", m.VaR95).
		Float64("es_97", m.ES97).
		Msg("Risk metrics calculated")

	return m, nil
}

func validateMetricsRequest(op string, req MetricsRequest, n int) error {
	switch req.Method {
	case "", MethodHistorical, MethodParametric, MethodCornishFisher:
	default:
		return quanterr.Configuration(op, "unknown VaR method %q", req.Method)
	}
	if req.Covariance != nil {
		if err := checkSquare(op, req.Covariance, n); err != nil {
			return err
		}
	}
	for t, row := range req.Returns {
		if len(row) != n {
			return quanterr.Alignment(op, "returns row %d has %d entries for %d instruments", t, len(row), n)
		}
	}
	if req.Expected != nil && len(req.Expected) != n {
		return quanterr.Alignment(op, "expected_returns has %d entries for %d instruments", len(req.Expected), n)
	}
	if req.Benchmark != nil && len(req.Benchmark) != len(req.Returns) {
		return quanterr.Alignment(op, "benchmark has %d observations, returns have %d", len(req.Benchmark), len(req.Returns))
	}
	return nil
}

// weightVector orders weights by instruments, rejecting unknown or non-finite entries
func weightVector(op string, ids []string, weights map[string]float64) ([]float64, error) {
	if len(ids) == 0 {
		return nil, quanterr.Configuration(op, "no instruments")
	}
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, quanterr.Configuration(op, "duplicate instrument %q", id)
		}
		index[id] = i
	}
	w := make([]float64, len(ids))
	for id, v := range weights {
		i, ok := index[id]
		if !ok {
			return nil, quanterr.Alignment(op, "weight for %s, which is not an instrument", id)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, quanterr.Configuration(op, "weight for %s is not finite", id)
		}
		w[i] = v
	}
	return w, nil
}

// portfolioReturns applies w to each return row. Rows with a gap in a held
// instrument are skipped; rows reports the source row of each observation.
func portfolioReturns(returns [][]float64, w []float64) ([]float64, []int) {
	series := make([]float64, 0, len(returns))
	rows := make([]int, 0, len(returns))
	for t, row := range returns {
		r, ok := 0.0, true
		for i, wi := range w {
			if wi == 0 {
				continue
			}
			if math.IsNaN(row[i]) {
				ok = false
				break
			}
			r += wi * row[i]
		}
		if ok {
			series = append(series, r)
			rows = append(rows, t)
		}
	}
	return series, rows
}

// benchmarkRelative returns beta and annualized tracking error against the
// benchmark over the dates both series cover. Either is nil when undefined.
func benchmarkRelative(series []float64, rows []int, benchmark []float64) (*float64, *float64) {
	var port, bench, active []float64
	for k, t := range rows {
		b := benchmark[t]
		if math.IsNaN(b) {
			continue
		}
		port = append(port, series[k])
		bench = append(bench, b)
		active = append(active, series[k]-b)
	}
	if len(port) < 2 {
		return nil, nil
	}
	te := formulas.StdDev(active) * math.Sqrt(formulas.TradingDaysPerYear)
	varB := formulas.Variance(bench)
	if varB == 0 {
		return nil, &te
	}
	beta := formulas.Covariance(port, bench) / varB
	return &beta, &te
}

// FactorExposures projects weights onto a loading matrix (instrument x factor): B'w.
// Factor names default to factor_0, factor_1, ...
func FactorExposures(w []float64, loadings [][]float64, factors []string) (map[string]float64, error) {
	const op = "risk.exposures"

	out := make(map[string]float64)
	if len(loadings) == 0 {
		return out, nil
	}
	if len(loadings) != len(w) {
		return nil, quanterr.Alignment(op, "factor_loadings has %d rows for %d instruments", len(loadings), len(w))
	}
	k := len(loadings[0])
	if factors != nil && len(factors) != k {
		return nil, quanterr.Alignment(op, "%d factor names for %d loading columns", len(factors), k)
	}
	if k == 0 {
		return out, nil
	}
	b := mat.NewDense(len(w), k, nil)
	for i, row := range loadings {
		if len(row) != k {
			return nil, quanterr.Alignment(op, "factor_loadings row %d has %d columns, want %d", i, len(row), k)
		}
		for j, v := range row {
			if math.IsNaN(v) {
				v = 0
			}
			b.Set(i, j, v)
		}
	}
	var exp mat.VecDense
	exp.MulVec(b.T(), mat.NewVecDense(len(w), append([]float64(nil), w...)))
	for j := 0; j < k; j++ {
		out[factorName(factors, j)] = exp.AtVec(j)
	}
	return out, nil
}

// SectorExposures sums weights by sector; instruments without one are unclassified
func SectorExposures(ids []string, w []float64, sectors map[string]string) map[string]float64 {
	out := make(map[string]float64)
	for i, id := range ids {
		if w[i] == 0 {
			continue
		}
		sector := sectors[id]
		if sector == "" {
			sector = unclassifiedSector
		}
		out[sector] += w[i]
	}
	return out
}

func factorName(factors []string, j int) string {
	if factors != nil {
		return factors[j]
	}
	return fmt.Sprintf("factor_%d", j)
}

func checkSquare(op string, m [][]float64, n int) error {
	if len(m) != n {
		return quanterr.Alignment(op, "covariance is %dx%d for %d instruments", len(m), len(m), n)
	}
	for i, row := range m {
		if len(row) != n {
			return quanterr.Alignment(op, "covariance row %d has %d entries, want %d", i, len(row), n)
		}
	}
	return nil
}

func quadForm(m [][]float64, w []float64) float64 {
	total := 0.0
	for i := range w {
		for j := range w {
			total += w[i] * m[i][j] * w[j]
		}
	}
	return total
}

func dot(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		if math.IsNaN(a[i]) {
			continue
		}
		total += a[i] * b[i]
	}
	return total
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
