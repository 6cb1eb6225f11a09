// Package di provides dependency injection wiring and initialization.
//
// Container holds every long-lived dependency of the service. It is built
// by Wire() and handed to the HTTP server, the scheduler and the CLI.
package di

import (
	"errors"

	"github.com/aristath/quantcore/internal/database"
	"github.com/aristath/quantcore/internal/metrics"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/modules/risk"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/scheduler"
	"github.com/aristath/quantcore/internal/tools"
	"github.com/aristath/quantcore/internal/work"
)

// Container holds all dependencies for the application
type Container struct {
	// Databases
	MarketDB *database.DB // Universes and daily bars
	LedgerDB *database.DB // Append-only compliance exception ledger

	// Data access
	Loader        *panel.SQLiteLoader
	ExceptionRepo compliance.ExceptionRepository

	// Core engines
	Signals    *signals.Engine
	Optimizer  *optimization.Optimizer
	Risk       *risk.Engine
	Compliance *compliance.Engine
	Backtester *backtest.Engine

	// Orchestration
	Metrics    *metrics.Metrics
	Pool       *work.Pool
	Runner     *pipeline.Runner
	Tools      *tools.Service
	Exceptions *compliance.ExceptionService
}

// JobInstances holds the registered background jobs
type JobInstances struct {
	Scheduler   *scheduler.Scheduler
	Pipeline    *scheduler.PipelineJob // nil when no schedule is configured
	Maintenance *scheduler.DatabaseMaintenanceJob
}

// Close releases the databases
func (c *Container) Close() error {
	var errs []error
	for _, db := range []*database.DB{c.MarketDB, c.LedgerDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
