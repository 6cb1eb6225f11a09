// Package backtest replays a weights function over a historical panel.
package backtest

import (
	"context"
	"time"

	"github.com/aristath/quantcore/internal/domain"
)

// Cadence is how often the portfolio is rebalanced
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Defaults
const (
	DefaultInitialCapital = 1_000_000.0
	DefaultCostBps        = 10.0
	DefaultBorrowRate     = 0.02
	DefaultADVWindow      = 20
	// MaxInvalidFraction is the share of the universe that may lack a valid
	// target on a rebalance date before the run fails.
	MaxInvalidFraction = 0.5
)

// Trade sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// WeightsFunc produces target weights for a rebalance date.
// Instruments absent from the result are targeted at zero; NaN marks an
// instrument without a valid signal.
type WeightsFunc func(ctx context.Context, date time.Time) (domain.Weights, error)

// Costs is the transaction and financing cost model
type Costs struct {
	CostBps     float64 `json:"cost_bps" yaml:"cost_bps" msgpack:"cost_bps"`
	SlippageBps float64 `json:"slippage_bps" yaml:"slippage_bps" msgpack:"slippage_bps"`
	BorrowRate  float64 `json:"borrow_rate" yaml:"borrow_rate" msgpack:"borrow_rate"`
	ADVWindow   int     `json:"adv_window,omitempty" yaml:"adv_window,omitempty" msgpack:"adv_window,omitempty"`
}

// DefaultCosts returns the standard cost model: 10 bps commission, no
// slippage, 2% annual borrow.
func DefaultCosts() Costs {
	return Costs{
		CostBps:    DefaultCostBps,
		BorrowRate: DefaultBorrowRate,
		ADVWindow:  DefaultADVWindow,
	}
}

// Rebalance configures the rebalance schedule and starting capital
type Rebalance struct {
	Cadence        Cadence `json:"cadence" yaml:"cadence" msgpack:"cadence"`
	InitialCapital float64 `json:"initial_capital,omitempty" yaml:"initial_capital,omitempty" msgpack:"initial_capital,omitempty"`
}

// Trade is one executed rebalance order
type Trade struct {
	Date          time.Time `json:"date" yaml:"date" msgpack:"date"`
	Instrument    string    `json:"instrument" yaml:"instrument" msgpack:"instrument"`
	Side          string    `json:"side" yaml:"side" msgpack:"side"`
	Quantity      float64   `json:"quantity" yaml:"quantity" msgpack:"quantity"`
	Price         float64   `json:"price" yaml:"price" msgpack:"price"`
	Notional      float64   `json:"notional" yaml:"notional" msgpack:"notional"`
	DeltaWeight   float64   `json:"delta_weight" yaml:"delta_weight" msgpack:"delta_weight"`
	Commission    float64   `json:"commission" yaml:"commission" msgpack:"commission"`
	Slippage      float64   `json:"slippage" yaml:"slippage" msgpack:"slippage"`
	Participation float64   `json:"participation" yaml:"participation" msgpack:"participation"`
}

// EquityPoint is the end-of-day portfolio state
type EquityPoint struct {
	Date   time.Time `json:"date" yaml:"date" msgpack:"date"`
	NAV    float64   `json:"nav" yaml:"nav" msgpack:"nav"`
	Cash   float64   `json:"cash" yaml:"cash" msgpack:"cash"`
	Gross  float64   `json:"gross" yaml:"gross" msgpack:"gross"`
	Net    float64   `json:"net" yaml:"net" msgpack:"net"`
	Return float64   `json:"return" yaml:"return" msgpack:"return"`
}

// TurnoverPoint is the turnover of one rebalance, as the sum of |delta weight|
type TurnoverPoint struct {
	Date     time.Time `json:"date" yaml:"date" msgpack:"date"`
	Turnover float64   `json:"turnover" yaml:"turnover" msgpack:"turnover"`
}

// Performance summarizes a run
type Performance struct {
	TotalReturn        float64 `json:"total_return" yaml:"total_return" msgpack:"total_return"`
	AnnualizedReturn   float64 `json:"annualized_return" yaml:"annualized_return" msgpack:"annualized_return"`
	Volatility         float64 `json:"volatility" yaml:"volatility" msgpack:"volatility"`
	Sharpe             float64 `json:"sharpe" yaml:"sharpe" msgpack:"sharpe"`
	MaxDrawdown        float64 `json:"max_drawdown" yaml:"max_drawdown" msgpack:"max_drawdown"`
	WinRate            float64 `json:"win_rate" yaml:"win_rate" msgpack:"win_rate"`
	AvgTurnover        float64 `json:"avg_turnover" yaml:"avg_turnover" msgpack:"avg_turnover"`
	AnnualizedTurnover float64 `json:"annualized_turnover" yaml:"annualized_turnover" msgpack:"annualized_turnover"`
	NumTrades          int     `json:"num_trades" yaml:"num_trades" msgpack:"num_trades"`
	NumRebalances      int     `json:"num_rebalances" yaml:"num_rebalances" msgpack:"num_rebalances"`
	TotalCosts         float64 `json:"total_costs" yaml:"total_costs" msgpack:"total_costs"`
	TotalBorrowCosts   float64 `json:"total_borrow_costs" yaml:"total_borrow_costs" msgpack:"total_borrow_costs"`
	FinalNAV           float64 `json:"final_nav" yaml:"final_nav" msgpack:"final_nav"`
}

// Result is the outcome of a backtest
type Result struct {
	EquityCurve []EquityPoint   `json:"equity_curve" yaml:"equity_curve" msgpack:"equity_curve"`
	Performance Performance     `json:"performance" yaml:"performance" msgpack:"performance"`
	Trades      []Trade         `json:"trades" yaml:"trades" msgpack:"trades"`
	Turnover    []TurnoverPoint `json:"turnover" yaml:"turnover" msgpack:"turnover"`
}
