package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ddndrk/disthene/internal/config"
	"github.com/ddndrk/disthene/internal/feeder"
	"github.com/ddndrk/disthene/internal/metrics"
	"github.com/ddndrk/disthene/internal/output"
	"github.com/ddndrk/disthene/internal/runner"
	"github.com/ddndrk/disthene/internal/stats"
	"github.com/ddndrk/disthene/internal/threshold"
)

var (
	// errDrift is returned when flushed per-tenant counts differ from what was posted.
	errDrift = errors.New("flushed counts drifted from posted counts")
	// errThresholds is returned when a soak assertion fails.
	errThresholds = errors.New("soak thresholds failed")
)

func newSoakCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Drive synthetic per-tenant traffic through the pipeline and verify the counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, config.Config.ValidateSoak)
			if err != nil {
				return err
			}
			// stdout carries the report unless the sink was pointed there explicitly.
			if cfg.Sink.Output == "-" && !cmd.Flags().Changed("sink-output") {
				cfg.Sink.Output = ""
			}
			logger := initLogging(cfg, stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := runSoak(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := output.Write(stdout, cfg.Soak.ReportFormat, report); err != nil {
				return err
			}
			return reportError(report)
		},
	}
	config.RegisterSoakFlags(cmd.Flags())
	return cmd
}

func reportError(r output.SoakReport) error {
	var errs []error
	if r.Drifted > 0 {
		errs = append(errs, fmt.Errorf("%w: %d tenants", errDrift, r.Drifted))
	}
	if r.FailedThresholds > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d", errThresholds, r.FailedThresholds, len(r.Thresholds)))
	}
	return errors.Join(errs...)
}

// runSoak posts synthetic traffic, settles the pipeline, and compares what
// was posted with what the flush cycles reported.
func runSoak(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (output.SoakReport, error) {
	thresholds, err := threshold.ParseAll(cfg.Soak.Thresholds)
	if err != nil {
		return output.SoakReport{}, err
	}

	fd, err := feeder.Open(cfg.Soak)
	if err != nil {
		return output.SoakReport{}, fmt.Errorf("feeder: %w", err)
	}
	defer fd.Close()

	p, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return output.SoakReport{}, err
	}

	collector := metrics.NewCollector()
	p.stats.AddObserver(collector)
	tally := metrics.NewTally()

	req := &soakRequester{
		poster:    p.bus,
		feeder:    fd,
		rollup:    p.stats.Options().Rollup,
		tally:     tally,
		collector: collector,
	}
	if cfg.Bus.DropIfFull {
		req.retry = newQueueFullRetryPolicy()
	}
	requester := runner.WithLogging(req, failureLogger{log: logger.With().Str("component", "soak").Logger()})

	opts := runner.Options{
		Concurrency:   cfg.Soak.Concurrency,
		TotalRequests: cfg.Soak.Total,
		Duration:      cfg.Soak.Duration,
		RatePerSecond: cfg.Soak.Rate,
		ArrivalModel:  toRunnerArrivalModel(cfg.Soak.ArrivalModel),
		Stages:        runner.RampUp(cfg.Soak.Rate, cfg.Soak.RampUp),
		Requester:     requester,
	}

	var report output.SoakReport
	g, gctx := errgroup.WithContext(ctx)
	g.Go(p.serve)
	g.Go(func() (err error) {
		defer func() {
			if shutErr := p.shutdown(context.WithoutCancel(gctx)); err == nil {
				err = shutErr
			}
		}()

		p.start(gctx)
		progress := output.NewProgressReporter(collector, cfg.Soak.ProgressInterval, logger)
		collector.Start()
		progress.Start()
		logger.Info().
			Int("concurrency", opts.Concurrency).
			Int("rate", opts.RatePerSecond).
			Dur("duration", opts.Duration).
			Int("total", opts.TotalRequests).
			Int("tenants", fd.Len()).
			Msg("soak started")

		result := runner.New(opts).Run(gctx)
		progress.Stop()
		logger.Info().
			Int64("posted", result.Total).
			Int64("errors", result.Errors).
			Dur("elapsed", result.Duration).
			Msg("soak finished, settling")

		if _, err := p.settle(context.WithoutCancel(gctx)); err != nil {
			return err
		}

		rows := metrics.Compare(tally.Snapshot(), collector.Flushed(), p.stats.Options().Tenant)
		summary := collector.Stats(result.Duration)
		report = output.NewSoakReport(summary, rows).WithThresholds(threshold.Evaluate(thresholds, summary))
		return nil
	})
	if err := g.Wait(); err != nil {
		return output.SoakReport{}, err
	}
	return report, nil
}

// settle waits until every accepted event has reached the aggregator and the
// sink's outcomes are counted, then runs a final flush.
func (p *pipeline) settle(ctx context.Context) (stats.FlushReport, error) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := p.bus.Drain(ctx); err != nil {
		return stats.FlushReport{}, fmt.Errorf("drain bus: %w", err)
	}
	p.log.Debug().Int("pending", p.sink.Pending()).Msg("flushing sink before final stats cycle")
	if err := p.sink.Flush(ctx); err != nil {
		// The failure is posted as StoreError and still counted.
		p.log.Warn().Err(err).Msg("final sink batch failed")
	}
	if err := p.bus.Drain(ctx); err != nil {
		return stats.FlushReport{}, fmt.Errorf("drain bus: %w", err)
	}
	return p.stats.Flush(ctx), nil
}

func toRunnerArrivalModel(model config.ArrivalModel) runner.ArrivalModel {
	switch model {
	case config.ArrivalModelPoisson:
		return runner.ArrivalModelPoisson
	default:
		return runner.ArrivalModelUniform
	}
}
