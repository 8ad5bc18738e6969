package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ddndrk/disthene/internal/config"
	"github.com/ddndrk/disthene/internal/logging"
)

func newRunCmd(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the stats aggregator until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.Config.Validate)
			if err != nil {
				return err
			}
			logger := initLogging(cfg, stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfg, logger)
		},
	}
}

func initLogging(cfg *config.Config, out io.Writer) zerolog.Logger {
	return logging.Init(logging.Config{
		Format:    cfg.Logging.Format,
		Level:     cfg.Logging.Level,
		Component: "disthene-stats",
		Output:    out,
	})
}

// runDaemon runs the pipeline until ctx is cancelled, then shuts it down.
func runDaemon(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.serve)
	g.Go(func() error {
		p.start(gctx)
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		return p.shutdown(context.WithoutCancel(gctx))
	})
	return g.Wait()
}
