// Package tools exposes the core components as typed, idempotent tool calls.
//
// Every call runs as one job on the shared work pool under the caller's
// tenant, so deadlines and capacity limits apply uniformly whether a call
// arrives over HTTP, from the CLI or from the scheduler.
package tools

import (
	"context"
	"time"

	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/work"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type tenantKey struct{}

// WithTenant tags ctx with the tenant whose capacity the calls consume
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFrom returns the tenant set by WithTenant, or work.DefaultTenant
func TenantFrom(ctx context.Context) string {
	if tenant, ok := ctx.Value(tenantKey{}).(string); ok && tenant != "" {
		return tenant
	}
	return work.DefaultTenant
}

// VerdictRecorder counts compliance verdicts
type VerdictRecorder interface {
	RecordVerdict(ruleset, status string)
}

type nopRecorder struct{}

func (nopRecorder) RecordVerdict(string, string) {}

// Deps are the components behind the tool calls
type Deps struct {
	Pool       *work.Pool
	Loader     panel.Loader
	Signals    *signals.Engine
	Optimizer  *optimization.Optimizer
	Backtester backtest.Backtester
	Risk       risk.RiskEngine
	Compliance compliance.ComplianceEngine
	Runner     *pipeline.Runner
	Verdicts   VerdictRecorder
}

// Service runs tool calls on the work pool
type Service struct {
	Deps
	log zerolog.Logger
}

// NewService creates a tool service
func NewService(deps Deps, log zerolog.Logger) *Service {
	if deps.Verdicts == nil {
		deps.Verdicts = nopRecorder{}
	}
	return &Service{
		Deps: deps,
		log:  log.With().Str("component", "tools").Logger(),
	}
}

func (s *Service) do(ctx context.Context, kind string, fn work.Func) error {
	job := work.Job{ID: uuid.New().String(), Kind: kind, Tenant: TenantFrom(ctx)}
	return s.Pool.Do(ctx, job, fn)
}

// LoadData loads a panel for a stored universe
func (s *Service) LoadData(ctx context.Context, req panel.Request) (*panel.Panel, error) {
	var out *panel.Panel
	err := s.do(ctx, KindDataLoad, func(ctx context.Context) error {
		var err error
		out, err = s.Loader.Load(ctx, req)
		return err
	})
	return out, err
}

// ComputeSignals scores a stored universe
func (s *Service) ComputeSignals(ctx context.Context, req SignalRequest) (*signals.Result, error) {
	var out *signals.Result
	err := s.do(ctx, KindSignalCompute, func(ctx context.Context) error {
		u, p, err := s.load(ctx, req.UniverseID, req.From, req.To)
		if err != nil {
			return err
		}
		var fwd *signals.ForwardReturns
		if req.WithIC {
			fwd = signals.PanelForwardReturns(p)
		}
		out, err = s.Signals.Compute(ctx, p, u, req.Recipe, fwd)
		return err
	})
	return out, err
}

// Optimize sizes a portfolio, estimating the covariance from stored data
// when the request names a universe and carries no risk inputs.
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (*optimization.Result, error) {
	var out *optimization.Result
	err := s.do(ctx, KindPortfolioOptimize, func(ctx context.Context) error {
		r := req.Request
		if req.UniverseID != "" && r.Covariance == nil && r.Returns == nil {
			u, p, err := s.load(ctx, req.UniverseID, req.From, req.To)
			if err != nil {
				return err
			}
			est, err := s.Optimizer.RiskModel().FromPanel(p, req.LookbackDays)
			if err != nil {
				return err
			}
			if r.Instruments == nil {
				r.Instruments = u.IDs()
			}
			if r.Sectors == nil {
				r.Sectors = u.SectorOf()
			}
			noShrinkage := 0.0
			r.Covariance = est.Matrix
			r.Shrinkage = &noShrinkage
		}
		var err error
		out, err = s.Optimizer.Optimize(ctx, r)
		return err
	})
	return out, err
}

// RunBacktest replays a strategy over a stored universe
func (s *Service) RunBacktest(ctx context.Context, req BacktestRequest) (*backtest.Result, error) {
	var out *backtest.Result
	err := s.do(ctx, KindBacktestRun, func(ctx context.Context) error {
		if err := req.Strategy.Validate(); err != nil {
			return err
		}
		u, p, err := s.load(ctx, req.UniverseID, req.From, req.To)
		if err != nil {
			return err
		}
		fn := s.Runner.WeightsFunc(p, u, req.Strategy, req.Rebalance.InitialCapital)
		out, err = s.Backtester.Run(ctx, p, u, fn, req.Costs, req.Rebalance)
		return err
	})
	return out, err
}

// RiskMetrics computes VaR, ES and exposures for explicit inputs
func (s *Service) RiskMetrics(ctx context.Context, req risk.MetricsRequest) (*risk.RiskMetrics, error) {
	var out *risk.RiskMetrics
	err := s.do(ctx, KindRiskMetrics, func(ctx context.Context) error {
		var err error
		out, err = s.Risk.Metrics(ctx, req)
		return err
	})
	return out, err
}

// Stress applies factor scenarios and, when requested, a liquidity stress
func (s *Service) Stress(ctx context.Context, req risk.StressRequest) (*risk.StressReport, error) {
	var out *risk.StressReport
	err := s.do(ctx, KindRiskStress, func(ctx context.Context) error {
		var err error
		out, err = s.Risk.Stress(ctx, req)
		return err
	})
	return out, err
}

// CheckCompliance evaluates a proposal against a ruleset
func (s *Service) CheckCompliance(ctx context.Context, req ComplianceRequest) (*compliance.Report, error) {
	var out *compliance.Report
	err := s.do(ctx, KindComplianceCheck, func(ctx context.Context) error {
		rs := req.Ruleset
		if rs == nil {
			name := req.RulesetName
			if name == "" {
				name = compliance.LongOnlyFund().Name
			}
			var err error
			if rs, err = compliance.BuiltinRuleset(name); err != nil {
				return err
			}
		}
		var err error
		out, err = s.Compliance.Check(ctx, req.Proposal, *rs, req.Context)
		if err != nil {
			return err
		}
		s.Verdicts.RecordVerdict(out.Ruleset, string(out.OverallStatus))
		if out.OverallStatus == compliance.StatusBlock {
			s.log.Warn().
				Str("ruleset", out.Ruleset).
				Int("violations", len(out.Violations)).
				Msg("Proposal blocked")
		}
		return nil
	})
	return out, err
}

// RunPipeline runs the full research pipeline as one job
func (s *Service) RunPipeline(ctx context.Context, spec pipeline.Spec) (*pipeline.RunReport, error) {
	var out *pipeline.RunReport
	err := s.do(ctx, KindPipelineRun, func(ctx context.Context) error {
		var err error
		out, err = s.Runner.Run(ctx, spec)
		if err != nil {
			return err
		}
		s.Verdicts.RecordVerdict(out.Compliance.Ruleset, string(out.Compliance.OverallStatus))
		return nil
	})
	return out, err
}

func (s *Service) load(ctx context.Context, universeID string, from, to time.Time) (*domain.Universe, *panel.Panel, error) {
	u, err := s.Loader.Universe(ctx, universeID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.Loader.Load(ctx, panel.Request{UniverseID: universeID, From: from, To: to})
	if err != nil {
		return nil, nil, err
	}
	return u, p, nil
}
