// Package risk estimates tail risk, exposures and stress outcomes for a set of weights.
//
// All return figures are signed: a negative VaR or ES is a loss. Tail figures
// are never positive; a tail quantile that lies in the gain region reports a
// zero loss. For every method the tail invariants |ES_p| >= |VaR_p| and
// |VaR_99| >= |VaR_97| >= |VaR_95| hold by construction.
package risk

import (
	"github.com/aristath/quantcore/internal/domain"
)

// Method selects the headline VaR/ES estimator
type Method string

const (
	MethodHistorical    Method = "historical"
	MethodParametric    Method = "parametric"
	MethodCornishFisher Method = "cornish_fisher"
)

// Confidence levels reported for every method
const (
	Confidence95 = 0.95
	Confidence97 = 0.975
	Confidence99 = 0.99
)

// Defaults
const (
	// MinHistory is the fewest portfolio observations a historical or
	// higher-moment estimate is computed from.
	MinHistory            = 20
	DefaultHedgeThreshold = 0.1
	cfGridPoints          = 2000
	unclassifiedSector    = "unclassified"
)

// TailMetrics holds VaR and ES at the standard confidence levels
type TailMetrics struct {
	VaR95 float64 `json:"var_95" yaml:"var_95" msgpack:"var_95"`
	VaR97 float64 `json:"var_97" yaml:"var_97" msgpack:"var_97"`
	VaR99 float64 `json:"var_99" yaml:"var_99" msgpack:"var_99"`
	ES95  float64 `json:"es_95" yaml:"es_95" msgpack:"es_95"`
	ES97  float64 `json:"es_97" yaml:"es_97" msgpack:"es_97"`
	ES99  float64 `json:"es_99" yaml:"es_99" msgpack:"es_99"`
}

// MetricsRequest is the input to Engine.Metrics.
// Returns is date-major: Returns[t][i] is the return of Instruments[i] on day t.
type MetricsRequest struct {
	Instruments []string          `json:"instruments" yaml:"instruments" msgpack:"instruments"`
	Weights     domain.Weights    `json:"weights" yaml:"weights" msgpack:"weights"`
	Returns     []domain.Values   `json:"returns,omitempty" yaml:"returns,omitempty" msgpack:"returns,omitempty"`
	Covariance  [][]float64       `json:"covariance,omitempty" yaml:"covariance,omitempty" msgpack:"covariance,omitempty"`
	Expected    domain.Values     `json:"expected_returns,omitempty" yaml:"expected_returns,omitempty" msgpack:"expected_returns,omitempty"`
	Benchmark   domain.Values     `json:"benchmark_returns,omitempty" yaml:"benchmark_returns,omitempty" msgpack:"benchmark_returns,omitempty"`
	Loadings    [][]float64       `json:"factor_loadings,omitempty" yaml:"factor_loadings,omitempty" msgpack:"factor_loadings,omitempty"`
	Factors     []string          `json:"factors,omitempty" yaml:"factors,omitempty" msgpack:"factors,omitempty"`
	Sectors     map[string]string `json:"sectors,omitempty" yaml:"sectors,omitempty" msgpack:"sectors,omitempty"`
	Method      Method            `json:"method,omitempty" yaml:"method,omitempty" msgpack:"method,omitempty"`
}

// RiskMetrics is the output of Engine.Metrics.
// The headline VaR/ES fields repeat the figures of the selected method.
type RiskMetrics struct {
	Method        Method      `json:"method" yaml:"method" msgpack:"method"`
	VaR95         float64     `json:"var_95" yaml:"var_95" msgpack:"var_95"`
	VaR99         float64     `json:"var_99" yaml:"var_99" msgpack:"var_99"`
	ES95          float64     `json:"es_95" yaml:"es_95" msgpack:"es_95"`
	ES97          float64     `json:"es_97" yaml:"es_97" msgpack:"es_97"`
	ES99          float64     `json:"es_99" yaml:"es_99" msgpack:"es_99"`
	Parametric    TailMetrics `json:"parametric" yaml:"parametric" msgpack:"parametric"`
	CornishFisher TailMetrics `json:"cornish_fisher" yaml:"cornish_fisher" msgpack:"cornish_fisher"`
	Historical    TailMetrics `json:"historical" yaml:"historical" msgpack:"historical"`

	ExpectedReturn       float64 `json:"expected_return" yaml:"expected_return" msgpack:"expected_return"`
	Volatility           float64 `json:"volatility" yaml:"volatility" msgpack:"volatility"`
	AnnualizedVolatility float64 `json:"annualized_volatility" yaml:"annualized_volatility" msgpack:"annualized_volatility"`
	Skewness             float64 `json:"skewness" yaml:"skewness" msgpack:"skewness"`
	ExcessKurtosis       float64 `json:"excess_kurtosis" yaml:"excess_kurtosis" msgpack:"excess_kurtosis"`
	Observations         int     `json:"observations" yaml:"observations" msgpack:"observations"`

	Beta          *float64 `json:"beta,omitempty" yaml:"beta,omitempty" msgpack:"beta,omitempty"`
	TrackingError *float64 `json:"tracking_error,omitempty" yaml:"tracking_error,omitempty" msgpack:"tracking_error,omitempty"`

	FactorExposures map[string]float64 `json:"factor_exposures" yaml:"factor_exposures" msgpack:"factor_exposures"`
	SectorExposures map[string]float64 `json:"sector_exposures" yaml:"sector_exposures" msgpack:"sector_exposures"`
}

// Scenario is a set of factor-return shocks with a probability of occurring
type Scenario struct {
	Name        string             `json:"name" yaml:"name" msgpack:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty" msgpack:"description,omitempty"`
	Shocks      map[string]float64 `json:"shocks" yaml:"shocks" msgpack:"shocks"`
	Probability float64            `json:"probability" yaml:"probability" msgpack:"probability"`
}

// ScenarioResult is the portfolio outcome under one scenario
type ScenarioResult struct {
	ScenarioName  string             `json:"scenario_name" yaml:"scenario_name" msgpack:"scenario_name"`
	BaseReturn    float64            `json:"base_return" yaml:"base_return" msgpack:"base_return"`
	ShockedReturn float64            `json:"shocked_return" yaml:"shocked_return" msgpack:"shocked_return"`
	Impact        float64            `json:"impact" yaml:"impact" msgpack:"impact"`
	Loss          float64            `json:"loss" yaml:"loss" msgpack:"loss"`
	Probability   float64            `json:"probability" yaml:"probability" msgpack:"probability"`
	Contributions map[string]float64 `json:"factor_contributions" yaml:"factor_contributions" msgpack:"factor_contributions"`
	Unmatched     []string           `json:"unmatched_factors,omitempty" yaml:"unmatched_factors,omitempty" msgpack:"unmatched_factors,omitempty"`
}

// ScenarioSummary aggregates scenario losses
type ScenarioSummary struct {
	ExpectedLoss  float64 `json:"expected_loss" yaml:"expected_loss" msgpack:"expected_loss"`
	WorstCase     float64 `json:"worst_case" yaml:"worst_case" msgpack:"worst_case"`
	WorstScenario string  `json:"worst_scenario" yaml:"worst_scenario" msgpack:"worst_scenario"`
	NumScenarios  int     `json:"num_scenarios" yaml:"num_scenarios" msgpack:"num_scenarios"`
}

// Hedge offsets one factor exposure
type Hedge struct {
	Factor   string  `json:"factor" yaml:"factor" msgpack:"factor"`
	Exposure float64 `json:"exposure" yaml:"exposure" msgpack:"exposure"`
	Weight   float64 `json:"hedge_weight" yaml:"hedge_weight" msgpack:"hedge_weight"`
	Notional float64 `json:"hedge_notional,omitempty" yaml:"hedge_notional,omitempty" msgpack:"hedge_notional,omitempty"`
	Side     string  `json:"side" yaml:"side" msgpack:"side"`
}

// StressRequest is the input to Engine.Stress. An empty Scenarios list runs
// the default scenario library.
type StressRequest struct {
	Instruments    []string          `json:"instruments" yaml:"instruments" msgpack:"instruments"`
	Weights        domain.Weights    `json:"weights" yaml:"weights" msgpack:"weights"`
	Loadings       [][]float64       `json:"factor_loadings" yaml:"factor_loadings" msgpack:"factor_loadings"`
	Factors        []string          `json:"factors" yaml:"factors" msgpack:"factors"`
	Expected       domain.Values     `json:"expected_returns,omitempty" yaml:"expected_returns,omitempty" msgpack:"expected_returns,omitempty"`
	Scenarios      []Scenario        `json:"scenarios,omitempty" yaml:"scenarios,omitempty" msgpack:"scenarios,omitempty"`
	HedgeThreshold float64           `json:"hedge_threshold,omitempty" yaml:"hedge_threshold,omitempty" msgpack:"hedge_threshold,omitempty"`
	NAV            float64           `json:"nav,omitempty" yaml:"nav,omitempty" msgpack:"nav,omitempty"`
	Liquidity      *LiquidityRequest `json:"liquidity,omitempty" yaml:"liquidity,omitempty" msgpack:"liquidity,omitempty"`
}

// StressReport is the output of Engine.Stress
type StressReport struct {
	Results   []ScenarioResult   `json:"scenario_results" yaml:"scenario_results" msgpack:"scenario_results"`
	Summary   ScenarioSummary    `json:"summary" yaml:"summary" msgpack:"summary"`
	Exposures map[string]float64 `json:"factor_exposures" yaml:"factor_exposures" msgpack:"factor_exposures"`
	Hedges    []Hedge            `json:"hedges" yaml:"hedges" msgpack:"hedges"`
	Liquidity *LiquidityReport   `json:"liquidity,omitempty" yaml:"liquidity,omitempty" msgpack:"liquidity,omitempty"`
}
