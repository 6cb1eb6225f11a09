package risk

import (
	"context"
	"math"
	"sort"

	"github.com/aristath/quantcore/internal/quanterr"
)

// Hedge sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// DefaultScenarios returns the built-in scenario library as factor shocks
func DefaultScenarios() []Scenario {
	return []Scenario{
		{
			Name:        "market_crash",
			Description: "Broad equity sell-off with a volatility spike",
			Shocks:      map[string]float64{"market": -0.20, "volatility": 2.0},
			Probability: 0.01,
		},
		{
			Name:        "rates_spike",
			Description: "Sharp rise in rates hitting long-duration assets",
			Shocks:      map[string]float64{"rates": 0.02, "duration": -0.15},
			Probability: 0.01,
		},
		{
			Name:        "oil_shock",
			Description: "Oil price collapse dragging energy names",
			Shocks:      map[string]float64{"oil": -0.15, "energy": -0.25},
			Probability: 0.01,
		},
		{
			Name:        "fx_crisis",
			Description: "Currency crisis hitting international exposure",
			Shocks:      map[string]float64{"fx": -0.10, "international": -0.20},
			Probability: 0.01,
		},
		{
			Name:        "sector_rotation",
			Description: "Rotation out of technology into defensives",
			Shocks:      map[string]float64{"tech": -0.15, "defensive": 0.10},
			Probability: 0.01,
		},
	}
}

// Stress applies each scenario's factor shocks to the portfolio's factor
// exposures. P&L is w . (B shock); idiosyncratic returns are assumed zero.
// Shocked factors missing from the loading matrix are reported as unmatched.
func (e *Engine) Stress(ctx context.Context, req StressRequest) (*StressReport, error) {
	const op = "risk.stress"

	if err := quanterr.CheckContext(ctx, op); err != nil {
		return nil, err
	}
	w, err := weightVector(op, req.Instruments, req.Weights)
	if err != nil {
		return nil, err
	}
	if len(req.Loadings) == 0 {
		return nil, quanterr.Configuration(op, "factor_loadings are required")
	}
	exposures, err := FactorExposures(w, req.Loadings, req.Factors)
	if err != nil {
		return nil, err
	}
	if req.Expected != nil && len(req.Expected) != len(w) {
		return nil, quanterr.Alignment(op, "expected_returns has %d entries for %d instruments", len(req.Expected), len(w))
	}
	if req.HedgeThreshold < 0 || math.IsNaN(req.HedgeThreshold) {
		return nil, quanterr.Configuration(op, "hedge_threshold must be non-negative, got %v", req.HedgeThreshold)
	}

	scenarios := req.Scenarios
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	if err := validateScenarios(op, scenarios); err != nil {
		return nil, err
	}

	base := 0.0
	if req.Expected != nil {
		base = dot(req.Expected, w)
	}

	report := &StressReport{
		Results:   make([]ScenarioResult, 0, len(scenarios)),
		Exposures: exposures,
	}
	for _, sc := range scenarios {
		res := applyScenario(sc, exposures, base)
		if len(res.Unmatched) > 0 {
			e.log.Debug().
				Str("scenario", sc.Name).
				Strs("unmatched", res.Unmatched).
				Msg("Scenario shocks factors without loadings")
		}
		report.Results = append(report.Results, res)
	}
	report.Summary = Summarize(report.Results)

	threshold := req.HedgeThreshold
	if threshold == 0 {
		threshold = DefaultHedgeThreshold
	}
	report.Hedges = SuggestHedges(exposures, threshold, req.NAV)

	if req.Liquidity != nil {
		lr := *req.Liquidity
		if lr.NAV == 0 {
			lr.NAV = req.NAV
		}
		report.Liquidity, err = e.LiquidityStress(ctx, req.Instruments, req.Weights, lr)
		if err != nil {
			return nil, err
		}
	}

	e.log.Info().
		Int("scenarios", report.Summary.NumScenarios).
		Float64("worst_case", report.Summary.WorstCase).
		Str("worst_scenario", report.Summary.WorstScenario).
		Int("hedges", len(report.Hedges)).
		Msg("Stress test complete")

	return report, nil
}

func validateScenarios(op string, scenarios []Scenario) error {
	seen := make(map[string]bool, len(scenarios))
	for _, sc := range scenarios {
		if sc.Name == "" {
			return quanterr.Configuration(op, "scenario without a name")
		}
		if seen[sc.Name] {
			return quanterr.Configuration(op, "duplicate scenario %q", sc.Name)
		}
		seen[sc.Name] = true
		if sc.Probability < 0 || sc.Probability > 1 || math.IsNaN(sc.Probability) {
			return quanterr.Configuration(op, "scenario %s probability %v outside [0, 1]", sc.Name, sc.Probability)
		}
		for f, shock := range sc.Shocks {
			if math.IsNaN(shock) || math.IsInf(shock, 0) {
				return quanterr.Configuration(op, "scenario %s shock on %s is not finite", sc.Name, f)
			}
		}
	}
	return nil
}

func applyScenario(sc Scenario, exposures map[string]float64, base float64) ScenarioResult {
	res := ScenarioResult{
		ScenarioName:  sc.Name,
		BaseReturn:    base,
		Probability:   sc.Probability,
		Contributions: make(map[string]float64, len(sc.Shocks)),
	}
	for _, f := range sortedKeys(sc.Shocks) {
		exp, ok := exposures[f]
		if !ok {
			res.Unmatched = append(res.Unmatched, f)
			continue
		}
		c := exp * sc.Shocks[f]
		res.Contributions[f] = c
		res.Impact += c
	}
	res.ShockedReturn = base + res.Impact
	if res.Impact < 0 {
		res.Loss = -res.Impact
	}
	return res
}

// Summarize returns the probability-weighted expected loss and the worst case
func Summarize(results []ScenarioResult) ScenarioSummary {
	s := ScenarioSummary{NumScenarios: len(results)}
	for i, r := range results {
		s.ExpectedLoss += r.Loss * r.Probability
		if i == 0 || r.Loss > s.WorstCase {
			s.WorstCase = r.Loss
			s.WorstScenario = r.ScenarioName
		}
	}
	return s
}

// SuggestHedges proposes an offsetting position for every factor whose
// absolute exposure exceeds threshold, largest exposure first.
func SuggestHedges(exposures map[string]float64, threshold, nav float64) []Hedge {
	factors := sortedKeys(exposures)
	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(exposures[factors[i]]) > math.Abs(exposures[factors[j]])
	})

	hedges := []Hedge{}
	for _, f := range factors {
		exp := exposures[f]
		if math.Abs(exp) <= threshold {
			continue
		}
		h := Hedge{Factor: f, Exposure: exp, Weight: -exp, Side: SideSell}
		if exp < 0 {
			h.Side = SideBuy
		}
		if nav > 0 {
			h.Notional = -exp * nav
		}
		hedges = append(hedges, h)
	}
	return hedges
}
