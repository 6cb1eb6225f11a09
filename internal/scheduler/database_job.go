package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/quantcore/internal/database"
	"github.com/rs/zerolog"
)

// DatabaseMaintenanceJob verifies integrity of the SQLite databases and
// checkpoints their write-ahead logs
type DatabaseMaintenanceJob struct {
	log       zerolog.Logger
	databases []*database.DB
}

// NewDatabaseMaintenanceJob creates a new DatabaseMaintenanceJob. Nil
// databases are skipped.
func NewDatabaseMaintenanceJob(log zerolog.Logger, dbs ...*database.DB) *DatabaseMaintenanceJob {
	j := &DatabaseMaintenanceJob{log: log.With().Str("job", "database_maintenance").Logger()}
	for _, db := range dbs {
		if db != nil {
			j.databases = append(j.databases, db)
		}
	}
	return j
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the maintenance job
func (j *DatabaseMaintenanceJob) Run(ctx context.Context) error {
	for _, db := range j.databases {
		// Corruption cannot be repaired in place
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().
				Err(err).
				Str("database", db.Name()).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s is corrupted: %w", db.Name(), err)
		}

		cp, err := db.Checkpoint(ctx)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			continue
		}

		j.log.Debug().
			Str("database", db.Name()).
			Int("wal_frames", cp.LogFrames).
			Int("checkpointed", cp.Checkpointed).
			Bool("busy", cp.Busy).
			Msg("Database maintenance OK")
	}
	return nil
}
