package optimization

import (
	"github.com/aristath/quantcore/internal/domain"
)

// Method selects the optimization algorithm
type Method string

const (
	MethodMeanVariance   Method = "mean_variance"
	MethodBlackLitterman Method = "black_litterman"
	MethodRiskParity     Method = "risk_parity"
	MethodHRP            Method = "hrp"
)

// Defaults
const (
	DefaultRiskAversion  = 3.0
	DefaultTau           = 0.05
	DefaultSignalScale   = 0.05
	PositionEpsilon      = 0.001
	MaxProjectionIters   = 200
	projectionTolerance  = 1e-9
	budgetPenalty        = 1000.0
	defaultMaxIterations = 500
)

// View is a single Black-Litterman opinion.
// Absolute views name one instrument, relative views an outperformer and an underperformer.
type View struct {
	Type           string  `json:"type" yaml:"type" msgpack:"type"`
	Instrument     string  `json:"instrument,omitempty" yaml:"instrument,omitempty" msgpack:"instrument,omitempty"`
	Outperformer   string  `json:"outperformer,omitempty" yaml:"outperformer,omitempty" msgpack:"outperformer,omitempty"`
	Underperformer string  `json:"underperformer,omitempty" yaml:"underperformer,omitempty" msgpack:"underperformer,omitempty"`
	Return         float64 `json:"return" yaml:"return" msgpack:"return"`
	Confidence     float64 `json:"confidence,omitempty" yaml:"confidence,omitempty" msgpack:"confidence,omitempty"`
}

// BlackLittermanInputs carries the prior and the views.
// Views may be given either as View records or as a raw pick matrix P with returns Q.
type BlackLittermanInputs struct {
	MarketWeights []float64   `json:"market_weights,omitempty" yaml:"market_weights,omitempty" msgpack:"market_weights,omitempty"`
	Views         []View      `json:"views,omitempty" yaml:"views,omitempty" msgpack:"views,omitempty"`
	P             [][]float64 `json:"p,omitempty" yaml:"p,omitempty" msgpack:"p,omitempty"`
	Q             []float64   `json:"q,omitempty" yaml:"q,omitempty" msgpack:"q,omitempty"`
	Omega         [][]float64 `json:"omega,omitempty" yaml:"omega,omitempty" msgpack:"omega,omitempty"`
	Tau           float64     `json:"tau,omitempty" yaml:"tau,omitempty" msgpack:"tau,omitempty"`
	Delta         float64     `json:"delta,omitempty" yaml:"delta,omitempty" msgpack:"delta,omitempty"`
}

// Request is one optimization call.
// Signal, Betas, Benchmark, ADVRatio and RiskBudgets are aligned to Instruments.
// ADVRatio is average daily traded value over NAV.
// Either Covariance or Returns (date-major) must be supplied.
type Request struct {
	Method         Method                `json:"method" yaml:"method" msgpack:"method"`
	Instruments    []string              `json:"instruments" yaml:"instruments" msgpack:"instruments"`
	Sectors        map[string]string     `json:"sectors,omitempty" yaml:"sectors,omitempty" msgpack:"sectors,omitempty"`
	Signal         domain.Values         `json:"signal,omitempty" yaml:"signal,omitempty" msgpack:"signal,omitempty"`
	Covariance     [][]float64           `json:"covariance,omitempty" yaml:"covariance,omitempty" msgpack:"covariance,omitempty"`
	Returns        []domain.Values       `json:"returns,omitempty" yaml:"returns,omitempty" msgpack:"returns,omitempty"`
	SampleSize     int                   `json:"sample_size,omitempty" yaml:"sample_size,omitempty" msgpack:"sample_size,omitempty"`
	Shrinkage      *float64              `json:"shrinkage,omitempty" yaml:"shrinkage,omitempty" msgpack:"shrinkage,omitempty"`
	RiskAversion   float64               `json:"risk_aversion,omitempty" yaml:"risk_aversion,omitempty" msgpack:"risk_aversion,omitempty"`
	SignalScale    float64               `json:"signal_scale,omitempty" yaml:"signal_scale,omitempty" msgpack:"signal_scale,omitempty"`
	BlackLitterman *BlackLittermanInputs `json:"black_litterman,omitempty" yaml:"black_litterman,omitempty" msgpack:"black_litterman,omitempty"`
	RiskBudgets    []float64             `json:"risk_budgets,omitempty" yaml:"risk_budgets,omitempty" msgpack:"risk_budgets,omitempty"`
	Betas          []float64             `json:"betas,omitempty" yaml:"betas,omitempty" msgpack:"betas,omitempty"`
	Benchmark      []float64             `json:"benchmark,omitempty" yaml:"benchmark,omitempty" msgpack:"benchmark,omitempty"`
	ADVRatio       []float64             `json:"adv_ratio,omitempty" yaml:"adv_ratio,omitempty" msgpack:"adv_ratio,omitempty"`
	Linkage        string                `json:"linkage,omitempty" yaml:"linkage,omitempty" msgpack:"linkage,omitempty"`
	Constraints    Constraints           `json:"constraints" yaml:"constraints" msgpack:"constraints"`
}

// Diagnostics describe the optimized portfolio
type Diagnostics struct {
	Method         Method  `json:"method" yaml:"method" msgpack:"method"`
	ExpectedReturn float64 `json:"expected_return" yaml:"expected_return" msgpack:"expected_return"`
	Volatility     float64 `json:"volatility" yaml:"volatility" msgpack:"volatility"`
	Sharpe         float64 `json:"sharpe" yaml:"sharpe" msgpack:"sharpe"`
	Herfindahl     float64 `json:"herfindahl" yaml:"herfindahl" msgpack:"herfindahl"`
	EffectiveN     float64 `json:"effective_n" yaml:"effective_n" msgpack:"effective_n"`
	NumPositions   int     `json:"num_positions" yaml:"num_positions" msgpack:"num_positions"`
	Gross          float64 `json:"gross" yaml:"gross" msgpack:"gross"`
	Net            float64 `json:"net" yaml:"net" msgpack:"net"`
	Shrinkage      float64 `json:"shrinkage" yaml:"shrinkage" msgpack:"shrinkage"`
	Iterations     int     `json:"iterations" yaml:"iterations" msgpack:"iterations"`
	ProjectionIter int     `json:"projection_iterations" yaml:"projection_iterations" msgpack:"projection_iterations"`
	Fallback       string  `json:"fallback,omitempty" yaml:"fallback,omitempty" msgpack:"fallback,omitempty"`
}

// Result is the optimizer output
type Result struct {
	Weights     domain.Weights `json:"weights" yaml:"weights" msgpack:"weights"`
	Diagnostics Diagnostics    `json:"diagnostics" yaml:"diagnostics" msgpack:"diagnostics"`
}
