package di

import (
	"fmt"

	"github.com/aristath/quantcore/internal/config"
	"github.com/aristath/quantcore/internal/scheduler"
	"github.com/rs/zerolog"
)

// MaintenanceSchedule is when the database maintenance job runs
const MaintenanceSchedule = "15 3 * * *"

// RegisterJobs creates the scheduler and registers the background jobs.
// The scheduler is returned stopped.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	instances := &JobInstances{Scheduler: scheduler.New(log)}

	// Job 1: Database maintenance
	instances.Maintenance = scheduler.NewDatabaseMaintenanceJob(log, container.MarketDB, container.LedgerDB)
	if err := instances.Scheduler.AddJob(MaintenanceSchedule, instances.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", instances.Maintenance.Name(), err)
	}

	// Job 2: Scheduled pipeline run
	if cfg.Pipeline.Schedule != "" {
		instances.Pipeline = scheduler.NewPipelineJob(cfg.Pipeline, container.Tools, log)
		if err := instances.Scheduler.AddJob(cfg.Pipeline.Schedule, instances.Pipeline); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", instances.Pipeline.Name(), err)
		}
	}

	return instances, nil
}
