package backtest

import (
	"context"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
)

// Backtester is the contract implemented by Engine
type Backtester interface {
	Run(ctx context.Context, p *panel.Panel, universe *domain.Universe, fn WeightsFunc, costs Costs, rebalance Rebalance) (*Result, error)
}

var _ Backtester = (*Engine)(nil)
