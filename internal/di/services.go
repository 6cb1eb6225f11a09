package di

import (
	"fmt"

	"github.com/aristath/quantcore/internal/config"
	"github.com/aristath/quantcore/internal/metrics"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/tools"
	"github.com/aristath/quantcore/internal/work"
	"github.com/rs/zerolog"
)

// InitializeServices builds the engines, the worker pool and the tool layer
// on top of the opened databases
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.MarketDB == nil || container.LedgerDB == nil {
		return fmt.Errorf("container databases must be initialized first")
	}

	// Data access
	container.Loader = panel.NewSQLiteLoader(container.MarketDB.Conn(), log)
	container.ExceptionRepo = compliance.NewSQLiteExceptionRepository(container.LedgerDB.Conn(), log)

	// Core engines
	container.Signals = signals.NewEngine(log)
	container.Optimizer = optimization.NewOptimizer(log)
	container.Risk = risk.NewEngine(log)
	container.Compliance = compliance.NewEngine(log)
	container.Backtester = backtest.NewEngine(log)

	// A zero worker capacity sizes the pool from the host
	container.Metrics = metrics.New()
	container.Pool = work.NewPool(cfg.WorkerCapacity, cfg.TenantCapacity, container.Metrics, log)
	container.Metrics.TrackPool(container.Pool)

	container.Runner = pipeline.NewRunner(
		container.Loader,
		container.Signals,
		container.Optimizer,
		container.Risk,
		container.Compliance,
		container.Backtester,
		log,
	)
	container.Tools = tools.NewService(tools.Deps{
		Pool:       container.Pool,
		Loader:     container.Loader,
		Signals:    container.Signals,
		Optimizer:  container.Optimizer,
		Backtester: container.Backtester,
		Risk:       container.Risk,
		Compliance: container.Compliance,
		Runner:     container.Runner,
		Verdicts:   container.Metrics,
	}, log)
	container.Exceptions = compliance.NewExceptionService(container.ExceptionRepo, log)

	log.Info().
		Int("capacity", container.Pool.Capacity()).
		Msg("Services initialized")

	return nil
}
