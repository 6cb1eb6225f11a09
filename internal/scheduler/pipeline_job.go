package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/config"
	"github.com/aristath/quantcore/internal/modules/backtest"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/modules/optimization"
	"github.com/aristath/quantcore/internal/modules/signals"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/tools"
	"github.com/rs/zerolog"
)

// SchedulerTenant is the tenant scheduled runs are charged to
const SchedulerTenant = "scheduler"

// PipelineRunner runs one pipeline spec
type PipelineRunner interface {
	RunPipeline(ctx context.Context, spec pipeline.Spec) (*pipeline.RunReport, error)
}

// PipelineJob runs the configured research pipeline. Recipe, constraints
// and ruleset files are read on every run, so edits apply from the next tick.
type PipelineJob struct {
	cfg    config.PipelineConfig
	runner PipelineRunner
	log    zerolog.Logger

	mu   sync.Mutex
	last *pipeline.RunReport
}

// NewPipelineJob creates a new PipelineJob
func NewPipelineJob(cfg config.PipelineConfig, runner PipelineRunner, log zerolog.Logger) *PipelineJob {
	return &PipelineJob{
		cfg:    cfg,
		runner: runner,
		log:    log.With().Str("job", "pipeline").Logger(),
	}
}

// Name returns the job name
func (j *PipelineJob) Name() string {
	return "pipeline"
}

// Spec builds the run from the configured files
func (j *PipelineJob) Spec() (pipeline.Spec, error) {
	var recipe signals.Recipe
	if err := codec.LoadFile(j.cfg.RecipePath, &recipe); err != nil {
		return pipeline.Spec{}, fmt.Errorf("recipe: %w", err)
	}

	spec := pipeline.Spec{
		UniverseID: j.cfg.UniverseID,
		Strategy: pipeline.Strategy{
			Recipe:       recipe,
			Method:       optimization.Method(j.cfg.Method),
			LookbackDays: j.cfg.LookbackDays,
		},
	}
	if j.cfg.ConstraintsPath != "" {
		if err := codec.LoadFile(j.cfg.ConstraintsPath, &spec.Strategy.Constraints); err != nil {
			return pipeline.Spec{}, fmt.Errorf("constraints: %w", err)
		}
	}

	// A ruleset with a file extension is a path, anything else a built-in name
	if filepath.Ext(j.cfg.Ruleset) != "" {
		var rs compliance.Ruleset
		if err := codec.LoadFile(j.cfg.Ruleset, &rs); err != nil {
			return pipeline.Spec{}, fmt.Errorf("ruleset: %w", err)
		}
		spec.Ruleset = &rs
	} else {
		spec.RulesetName = j.cfg.Ruleset
	}

	if j.cfg.Backtest {
		spec.Backtest = &pipeline.BacktestSpec{
			Costs:     backtest.DefaultCosts(),
			Rebalance: backtest.Rebalance{Cadence: backtest.CadenceMonthly},
		}
	}
	return spec, spec.Validate()
}

// Run executes the pipeline job
func (j *PipelineJob) Run(ctx context.Context) error {
	spec, err := j.Spec()
	if err != nil {
		return err
	}

	report, err := j.runner.RunPipeline(tools.WithTenant(ctx, SchedulerTenant), spec)
	if err != nil {
		return fmt.Errorf("pipeline run for %s failed: %w", spec.UniverseID, err)
	}

	j.mu.Lock()
	j.last = report
	j.mu.Unlock()

	event := j.log.Info()
	if report.Compliance.OverallStatus == compliance.StatusBlock {
		event = j.log.Warn()
	}
	event.
		Str("run_id", report.RunID).
		Str("universe", report.UniverseID).
		Time("as_of", report.AsOf).
		Str("verdict", string(report.Compliance.OverallStatus)).
		Int("positions", len(report.Portfolio.Weights)).
		Float64("var_95", report.Risk.VaR95).
		Msg("Scheduled pipeline run completed")
	return nil
}

// Last returns the report of the most recent successful run, or nil
func (j *PipelineJob) Last() *pipeline.RunReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last
}
