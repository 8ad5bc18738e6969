package main

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

func newMetricsServer(handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// serveMetrics serves on ln until srv is shut down.
func serveMetrics(srv *http.Server, ln net.Listener, log zerolog.Logger) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("metrics endpoint listening")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Msg("metrics server stopped unexpectedly")
		return err
	}
	return nil
}
