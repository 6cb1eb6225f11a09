package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/modules/compliance"
	"github.com/aristath/quantcore/internal/tools"
	"github.com/aristath/quantcore/internal/work"
)

type checkOptions struct {
	requestPath string
	ruleset     string
	format      string
	output      string
}

// errBlocked makes a blocked proposal exit non-zero
var errBlocked = errors.New("proposal blocked by compliance")

func newCheckCmd() *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a proposal against a compliance ruleset",
		Long: `Evaluate a compliance request (proposal weights or orders plus reference
data) and print the report. Exits non-zero when the verdict is BLOCK.

--ruleset overrides the request's ruleset with a built-in name
(long_only_fund, long_short_fund) or a ruleset file.

Examples:
  quantcore check --request proposal.yaml
  quantcore check --request proposal.json --ruleset rules/house.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.requestPath, "request", "", "Compliance request file (.json, .yaml or .msgpack)")
	cmd.Flags().StringVar(&opts.ruleset, "ruleset", "", "Built-in ruleset name or ruleset file")
	cmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json, yaml, msgpack")
	cmd.Flags().StringVar(&opts.output, "output", "", "Output file (default: stdout)")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *checkOptions) error {
	var req tools.ComplianceRequest
	if err := codec.LoadFile(opts.requestPath, &req); err != nil {
		return err
	}
	switch {
	case opts.ruleset == "":
	case filepath.Ext(opts.ruleset) != "":
		var rs compliance.Ruleset
		if err := codec.LoadFile(opts.ruleset, &rs); err != nil {
			return err
		}
		req.Ruleset = &rs
	default:
		req.RulesetName, req.Ruleset = opts.ruleset, nil
	}

	_, log, err := bootstrap(os.Stderr)
	if err != nil {
		return err
	}

	// Compliance needs no stored data
	svc := tools.NewService(tools.Deps{
		Pool:       work.NewPool(1, 1, nil, log),
		Compliance: compliance.NewEngine(log),
	}, log)

	report, err := svc.CheckCompliance(cmd.Context(), req)
	if err != nil {
		return err
	}
	if err := writeResult(cmd, opts.format, opts.output, report); err != nil {
		return err
	}
	if report.OverallStatus == compliance.StatusBlock {
		return errBlocked
	}
	return nil
}
