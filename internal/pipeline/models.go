// Package pipeline chains the core components into one research run:
// panel, signals, covariance, optimization and risk, then stress, compliance
// and an optional backtest in parallel.
package pipeline

import (
	"time"

	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
)

// Defaults
const (
	DefaultNAV       = backtest.DefaultInitialCapital
	DefaultADVWindow = backtest.DefaultADVWindow
	// MarketFactor is the loading column holding each instrument's beta to
	// the equal-weight universe.
	MarketFactor = "market"
)

// Strategy turns a panel into target weights: the recipe scores the
// universe and the optimizer sizes the scores.
type Strategy struct {
	Recipe       signals.Recipe           `json:"recipe" yaml:"recipe" msgpack:"recipe"`
	Method       optimization.Method      `json:"method" yaml:"method" msgpack:"method"`
	Constraints  optimization.Constraints `json:"constraints" yaml:"constraints" msgpack:"constraints"`
	LookbackDays int                      `json:"lookback_days,omitempty" yaml:"lookback_days,omitempty" msgpack:"lookback_days,omitempty"`
	RiskAversion float64                  `json:"risk_aversion,omitempty" yaml:"risk_aversion,omitempty" msgpack:"risk_aversion,omitempty"`
	SignalScale  float64                  `json:"signal_scale,omitempty" yaml:"signal_scale,omitempty" msgpack:"signal_scale,omitempty"`
	Linkage      string                   `json:"linkage,omitempty" yaml:"linkage,omitempty" msgpack:"linkage,omitempty"`
}

// BacktestSpec enables the backtest stage
type BacktestSpec struct {
	Costs     backtest.Costs     `json:"costs" yaml:"costs" msgpack:"costs"`
	Rebalance backtest.Rebalance `json:"rebalance" yaml:"rebalance" msgpack:"rebalance"`
}

// Spec is one pipeline run. Ruleset wins over RulesetName; with neither,
// the long-only fund ruleset applies.
type Spec struct {
	UniverseID  string              `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	From        time.Time           `json:"from,omitempty" yaml:"from,omitempty" msgpack:"from,omitempty"`
	To          time.Time           `json:"to,omitempty" yaml:"to,omitempty" msgpack:"to,omitempty"`
	Strategy    Strategy            `json:"strategy" yaml:"strategy" msgpack:"strategy"`
	RulesetName string              `json:"ruleset_name,omitempty" yaml:"ruleset_name,omitempty" msgpack:"ruleset_name,omitempty"`
	Ruleset     *compliance.Ruleset `json:"ruleset,omitempty" yaml:"ruleset,omitempty" msgpack:"ruleset,omitempty"`
	Strict      bool                `json:"strict,omitempty" yaml:"strict,omitempty" msgpack:"strict,omitempty"`
	NAV         float64             `json:"nav,omitempty" yaml:"nav,omitempty" msgpack:"nav,omitempty"`
	RiskMethod  risk.Method         `json:"risk_method,omitempty" yaml:"risk_method,omitempty" msgpack:"risk_method,omitempty"`
	Scenarios   []risk.Scenario     `json:"scenarios,omitempty" yaml:"scenarios,omitempty" msgpack:"scenarios,omitempty"`
	Backtest    *BacktestSpec       `json:"backtest,omitempty" yaml:"backtest,omitempty" msgpack:"backtest,omitempty"`
}

// StageTiming records how long one stage took
type StageTiming struct {
	Stage  string  `json:"stage" yaml:"stage" msgpack:"stage"`
	Millis float64 `json:"millis" yaml:"millis" msgpack:"millis"`
}

// RunReport is the outcome of a run
type RunReport struct {
	RunID       string                          `json:"run_id" yaml:"run_id" msgpack:"run_id"`
	UniverseID  string                          `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	AsOf        time.Time                       `json:"as_of" yaml:"as_of" msgpack:"as_of"`
	Signals     map[string]float64              `json:"signals" yaml:"signals" msgpack:"signals"`
	Diagnostics signals.Diagnostics             `json:"signal_diagnostics" yaml:"signal_diagnostics" msgpack:"signal_diagnostics"`
	Covariance  optimization.CovarianceEstimate `json:"covariance" yaml:"covariance" msgpack:"covariance"`
	Portfolio   optimization.Result             `json:"portfolio" yaml:"portfolio" msgpack:"portfolio"`
	Risk        risk.RiskMetrics                `json:"risk" yaml:"risk" msgpack:"risk"`
	Stress      risk.StressReport               `json:"stress" yaml:"stress" msgpack:"stress"`
	Compliance  compliance.Report               `json:"compliance" yaml:"compliance" msgpack:"compliance"`
	Backtest    *backtest.Result                `json:"backtest,omitempty" yaml:"backtest,omitempty" msgpack:"backtest,omitempty"`
	Timings     []StageTiming                   `json:"timings" yaml:"timings" msgpack:"timings"`
	StartedAt   time.Time                       `json:"started_at" yaml:"started_at" msgpack:"started_at"`
	FinishedAt  time.Time                       `json:"finished_at" yaml:"finished_at" msgpack:"finished_at"`
}
