package tools

import (
	"time"

	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
)

// Job kinds, one per tool call
const (
	KindDataLoad          = "data.load"
	KindSignalCompute     = "signal.compute"
	KindPortfolioOptimize = "portfolio.optimize"
	KindBacktestRun       = "backtest.run"
	KindRiskMetrics       = "risk.metrics"
	KindRiskStress        = "risk.stress"
	KindComplianceCheck   = "compliance.check"
	KindPipelineRun       = "pipeline.run"
)

// SignalRequest scores a stored universe with a recipe. WithIC also computes
// the information coefficient against the panel's own forward returns.
type SignalRequest struct {
	UniverseID string         `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	From       time.Time      `json:"from,omitempty" yaml:"from,omitempty" msgpack:"from,omitempty"`
	To         time.Time      `json:"to,omitempty" yaml:"to,omitempty" msgpack:"to,omitempty"`
	Recipe     signals.Recipe `json:"recipe" yaml:"recipe" msgpack:"recipe"`
	WithIC     bool           `json:"with_ic,omitempty" yaml:"with_ic,omitempty" msgpack:"with_ic,omitempty"`
}

// OptimizeRequest is an optimizer request. When UniverseID is set and no
// covariance or return history is given, the covariance is estimated from
// the stored panel over LookbackDays and Instruments default to the universe.
type OptimizeRequest struct {
	optimization.Request `yaml:",inline" msgpack:",inline"`

	UniverseID   string    `json:"universe_id,omitempty" yaml:"universe_id,omitempty" msgpack:"universe_id,omitempty"`
	From         time.Time `json:"from,omitempty" yaml:"from,omitempty" msgpack:"from,omitempty"`
	To           time.Time `json:"to,omitempty" yaml:"to,omitempty" msgpack:"to,omitempty"`
	LookbackDays int       `json:"lookback_days,omitempty" yaml:"lookback_days,omitempty" msgpack:"lookback_days,omitempty"`
}

// BacktestRequest replays a strategy over a stored universe. The strategy
// is re-run at every rebalance date on the history known at that date.
type BacktestRequest struct {
	UniverseID string             `json:"universe_id" yaml:"universe_id" msgpack:"universe_id"`
	From       time.Time          `json:"from,omitempty" yaml:"from,omitempty" msgpack:"from,omitempty"`
	To         time.Time          `json:"to,omitempty" yaml:"to,omitempty" msgpack:"to,omitempty"`
	Strategy   pipeline.Strategy  `json:"strategy" yaml:"strategy" msgpack:"strategy"`
	Costs      backtest.Costs     `json:"costs" yaml:"costs" msgpack:"costs"`
	Rebalance  backtest.Rebalance `json:"rebalance" yaml:"rebalance" msgpack:"rebalance"`
}

// ComplianceRequest checks a proposal. Ruleset wins over RulesetName.
type ComplianceRequest struct {
	Proposal    compliance.Proposal `json:"proposal" yaml:"proposal" msgpack:"proposal"`
	RulesetName string              `json:"ruleset_name,omitempty" yaml:"ruleset_name,omitempty" msgpack:"ruleset_name,omitempty"`
	Ruleset     *compliance.Ruleset `json:"ruleset,omitempty" yaml:"ruleset,omitempty" msgpack:"ruleset,omitempty"`
	Context     compliance.Context  `json:"context" yaml:"context" msgpack:"context"`
}
