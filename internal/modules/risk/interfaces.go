package risk

import (
	"context"

	"github.com/aristath/quantcore/internal/domain"
)

// RiskEngine is the contract implemented by Engine
type RiskEngine interface {
	Metrics(ctx context.Context, req MetricsRequest) (*RiskMetrics, error)
	Stress(ctx context.Context, req StressRequest) (*StressReport, error)
	LiquidityStress(ctx context.Context, instruments []string, weights domain.Weights, req LiquidityRequest) (*LiquidityReport, error)
}

var _ RiskEngine = (*Engine)(nil)
