package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/quantcore/internal/di"
	"github.com/aristath/quantcore/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool-call API and run scheduled jobs",
		Long: `Start the HTTP server exposing the tool calls under /api/tools, the
compliance exception workflow under /api/exceptions, /health and /metrics.
When QUANTCORE_SCHEDULE is set the configured pipeline runs on that cron
schedule.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap(os.Stdout)
	if err != nil {
		return err
	}

	log.Info().Msg("Starting quantcore")

	// Step 1: Wire dependencies
	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		return err
	}
	defer container.Close()

	// Step 2: HTTP server
	srv := server.New(server.Config{
		Log:            log,
		Port:           cfg.Port,
		DevMode:        cfg.DevMode,
		RequestTimeout: cfg.RequestTimeout,
		CORSOrigins:    cfg.CORSOrigins,
		Tools:          container.Tools,
		Exceptions:     container.Exceptions,
		Metrics:        container.Metrics,
		Pool:           container.Pool,
		MarketDB:       container.MarketDB,
		LedgerDB:       container.LedgerDB,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Step 3: Background jobs
	jobs.Scheduler.Start()

	// Step 4: Wait for a signal or a server failure
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	// Stop taking requests first, then cancel running jobs
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("Server forced to shutdown")
	}
	jobs.Scheduler.Stop()

	log.Info().Msg("quantcore stopped")
	return err
}
