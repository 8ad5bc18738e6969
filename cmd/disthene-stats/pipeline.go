package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ddndrk/disthene/internal/bus"
	"github.com/ddndrk/disthene/internal/config"
	"github.com/ddndrk/disthene/internal/lockfile"
	"github.com/ddndrk/disthene/internal/sink"
	"github.com/ddndrk/disthene/internal/stats"
	"github.com/ddndrk/disthene/internal/telemetry"
	"github.com/ddndrk/disthene/internal/tracing"
)

var shutdownTimeout = 10 * time.Second

// pipeline is the assembled stats service: the bus, the aggregator feeding on
// it, the stand-in storage sink and the ambient telemetry around them.
type pipeline struct {
	log zerolog.Logger

	lock      *lockfile.Lock
	tracing   *tracing.Provider
	registry  *prometheus.Registry
	telemetry *telemetry.Metrics
	listener  net.Listener
	server    *http.Server

	bus   *bus.Bus
	out   io.WriteCloser
	sink  *sink.Sink
	stats *stats.Stats
}

// newPipeline wires every component without starting background work. On
// error, whatever was already acquired is released.
func newPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (p *pipeline, err error) {
	rollup, err := cfg.BaseRollup()
	if err != nil {
		return nil, fmt.Errorf("rollup: %w", err)
	}

	p = &pipeline{log: logger}
	defer func() {
		if err != nil {
			p.shutdown(context.Background())
			p = nil
		}
	}()

	if p.lock, err = lockfile.Acquire(cfg.LockFile); err != nil {
		return p, err
	}

	if p.tracing, err = tracing.Init(ctx, cfg.Tracing); err != nil {
		return p, err
	}
	if p.tracing.Enabled() {
		logger.Info().Str("endpoint", cfg.Tracing.Endpoint).Str("protocol", cfg.Tracing.Protocol).Msg("tracing enabled")
	}

	p.registry = telemetry.NewRegistry()
	p.telemetry = telemetry.New(p.registry)
	if cfg.Metrics.Listen != "" {
		if p.listener, err = net.Listen("tcp", cfg.Metrics.Listen); err != nil {
			return p, fmt.Errorf("metrics listener: %w", err)
		}
		p.server = newMetricsServer(telemetry.Handler(p.registry))
	}

	p.bus = bus.New(bus.Options{
		Workers:    cfg.Bus.Workers,
		QueueSize:  cfg.Bus.QueueSize,
		DropIfFull: cfg.Bus.DropIfFull,
		Logger:     logger.With().Str("component", "bus").Logger(),
		Observer:   p.telemetry,
	})

	if p.out, err = sink.OpenOutput(cfg.Sink.Output); err != nil {
		return p, err
	}
	p.sink = sink.New(p.out, p.bus, sink.Options{
		Format:        cfg.Sink.Format,
		BatchSize:     cfg.Sink.BatchSize,
		FlushInterval: cfg.Sink.FlushInterval,
		Logger:        logger,
		Tracer:        p.tracing.Tracer(),
		Observer:      p.telemetry,
	})
	p.sink.Register(p.bus)

	p.stats = stats.New(p.bus, stats.Options{
		Interval:   cfg.Stats.Interval,
		Log:        cfg.Stats.Log,
		Tenant:     cfg.Stats.Tenant,
		Hostname:   cfg.Stats.Hostname,
		Rollup:     rollup,
		EmitTotals: cfg.Stats.EmitTotals,
		Logger:     logger,
		Tracer:     p.tracing.Tracer(),
	})
	p.stats.Register(p.bus)
	p.stats.AddObserver(p.telemetry)

	return p, nil
}

// start launches the sink writer and the flush timer. The sink outlives ctx:
// only shutdown stops it, after the bus has delivered its queue.
func (p *pipeline) start(ctx context.Context) {
	p.sink.Start(context.WithoutCancel(ctx))
	p.stats.Start()
	p.log.Info().
		Str("hostname", p.stats.Options().Hostname).
		Str("tenant", p.stats.Options().Tenant).
		Msg("stats pipeline started")
}

// serve blocks serving Prometheus metrics until shutdown closes the server.
// It returns immediately when no listen address is configured.
func (p *pipeline) serve() error {
	if p.server == nil {
		return nil
	}
	return serveMetrics(p.server, p.listener, p.log)
}

// shutdown tears the pipeline down: flush timer, bus, sink, tracing, metrics
// server, lock. It is safe on a partially built pipeline.
func (p *pipeline) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if p.stats != nil {
		p.stats.Stop()
	}
	if p.bus != nil {
		p.bus.Close()
	}
	if p.sink != nil {
		if err := p.sink.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop sink: %w", err))
		}
	}
	if p.out != nil {
		if err := p.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink output: %w", err))
		}
	}
	if p.tracing != nil {
		if err := p.tracing.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	if p.server != nil {
		if err := p.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
		}
	}
	if p.listener != nil {
		// Already closed when the server was serving on it.
		_ = p.listener.Close()
	}
	if err := p.lock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}

	err := errors.Join(errs...)
	if err != nil {
		p.log.Warn().Err(err).Msg("shutdown finished with errors")
		return err
	}
	ev := p.log.Info()
	if p.stats != nil {
		ev = ev.Int("tenants", p.stats.Tenants())
	}
	if p.sink != nil {
		ev = ev.Uint64("sink_written", p.sink.Written()).Uint64("sink_failed", p.sink.Failed())
	}
	ev.Msg("stats pipeline stopped")
	return nil
}
