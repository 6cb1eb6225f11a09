package optimization

import "context"

// PortfolioOptimizer is what the pipeline and the tool layer depend on
type PortfolioOptimizer interface {
	Optimize(ctx context.Context, req Request) (*Result, error)
}

var _ PortfolioOptimizer = (*Optimizer)(nil)
