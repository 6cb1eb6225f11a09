package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/quantcore/internal/codec"
	"github.com/aristath/quantcore/internal/di"
	"github.com/aristath/quantcore/internal/domain"
	"github.com/aristath/quantcore/internal/modules/panel"
	"github.com/aristath/quantcore/internal/quanterr"
)

type ingestOptions struct {
	universePath string
	panelPath    string
}

func newIngestCmd() *cobra.Command {
	opts := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a universe and its panel into the market database",
		Long: `Replace the stored membership of a universe and upsert the finite
observations of a panel. The panel's instruments must belong to the universe.

Example:
  quantcore ingest --universe data/core.yaml --panel data/core_bars.msgpack`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.universePath, "universe", "", "Universe file (.json, .yaml or .msgpack)")
	cmd.Flags().StringVar(&opts.panelPath, "panel", "", "Panel file (.json, .yaml or .msgpack)")
	_ = cmd.MarkFlagRequired("universe")
	return cmd
}

func runIngest(cmd *cobra.Command, opts *ingestOptions) error {
	const op = "ingest"

	var u domain.Universe
	if err := codec.LoadFile(opts.universePath, &u); err != nil {
		return err
	}
	if u.ID == "" || len(u.Instruments) == 0 {
		return quanterr.Configuration(op, "universe needs an id and at least one instrument")
	}

	var p *panel.Panel
	if opts.panelPath != "" {
		p = &panel.Panel{}
		if err := codec.LoadFile(opts.panelPath, p); err != nil {
			return err
		}
		members := make(map[string]bool, len(u.Instruments))
		for _, inst := range u.Instruments {
			members[inst.ID] = true
		}
		for _, id := range p.Instruments {
			if !members[id] {
				return quanterr.Alignment(op, "panel instrument %s is not in universe %s", id, u.ID)
			}
		}
	}

	cfg, log, err := bootstrap(os.Stderr)
	if err != nil {
		return err
	}
	container, err := di.InitializeDatabases(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	loader := panel.NewSQLiteLoader(container.MarketDB.Conn(), log)
	ctx := cmd.Context()
	if err := loader.SaveUniverse(ctx, &u); err != nil {
		return err
	}
	if p != nil {
		if err := loader.SavePanel(ctx, p); err != nil {
			return err
		}
	}

	log.Info().
		Str("universe", u.ID).
		Int("instruments", len(u.Instruments)).
		Bool("panel", p != nil).
		Msg("Ingest completed")
	return nil
}
