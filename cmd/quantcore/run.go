package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/di"
	"github.com/aristath/quantcore/internal/pipeline"
	"github.com/aristath/quantcore/internal/tools"
)

type runOptions struct {
	specPath string
	format   string
	output   string
	tenant   string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the research pipeline once",
		Long: `Run one pipeline (signals, optimization, risk, stress, compliance and an
optional backtest) against the market database and print the run report.

Examples:
  quantcore run --spec runs/core.yaml
  quantcore run --spec runs/core.json --format yaml --output report.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.specPath, "spec", "", "Pipeline spec file (.json, .yaml or .msgpack)")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, yaml, msgpack")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&opts.tenant, "tenant", "cli", "Tenant charged for the run")
	_ = cmd.MarkFlagRequired("spec")
	return cmd
}

func runPipeline(cmd *cobra.Command, opts *runOptions) error {
	var spec pipeline.Spec
	if err := codec.LoadFile(opts.specPath, &spec); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	cfg, log, err := bootstrap(os.Stderr)
	if err != nil {
		return err
	}
	container, _, err := di.Wire(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
	defer cancel()

	report, err := container.Tools.RunPipeline(tools.WithTenant(ctx, opts.tenant), spec)
	if err != nil {
		return err
	}
	return writeResult(cmd, opts.format, opts.output, report)
}
