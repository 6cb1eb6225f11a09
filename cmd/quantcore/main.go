// Package main is the entry point for quantcore, the quantitative research
// core: signal generation, portfolio optimization, backtesting, risk and
// pre-trade compliance behind typed tool calls.
//
// Subcommands:
//   - serve:  HTTP tool server plus the scheduled pipeline
//   - run:    one pipeline run from a spec file
//   - check:  one compliance check from a request file
//   - ingest: load a universe and its panel into the market database
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/config"
	"github.com/aristath/quantcore/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quantcore",
		Short: "Deterministic quantitative research core",
		Long: `quantcore scores universes with factor recipes, sizes portfolios under
constraints, backtests and stress-tests them, and checks proposals against
compliance rulesets. Configuration comes from QUANTCORE_* environment
variables (a .env file in the working directory is read first).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd(), newCheckCmd(), newIngestCmd())
	return root
}

// bootstrap loads configuration and builds the logger. Command output goes
// to stdout, so one-shot commands log to stderr.
func bootstrap(logOutput io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: logOutput,
	})
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

// writeResult encodes v to the command's output, or to path when set
func writeResult(cmd *cobra.Command, format, path string, v interface{}) error {
	f, err := codec.ParseFormat(format)
	if err != nil {
		return err
	}
	if path == "" {
		return codec.Encode(f, cmd.OutOrStdout(), v)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := codec.Encode(f, out, v); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
