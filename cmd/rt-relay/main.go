// Command rt-relay runs the reference realtime relay server.
//
// The relay speaks the envelope protocol over all three transports
// (websocket, SSE, mux) and accepts telemetry batch ingest. It is meant
// for development and integration testing of realtime clients.
//
// Usage:
//
//	rt-relay [flags]
//
// Flags:
//
//	-addr string            Listen address (default ":8080")
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-poll-timeout duration  Mux long-poll timeout (default 25s)
//	-telemetry-max int      Telemetry batches to retain (default 100)
//	-telemetry-rate float   Telemetry requests/sec per client (default 10)
//
// Examples:
//
//	# Start the relay on the default port
//	rt-relay
//
//	# Start on a custom port with debug logging
//	rt-relay -addr :9000 -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/parcelview/realtime-go/internal/relay"
)

const shutdownTimeout = 5 * time.Second

var (
	addr          = flag.String("addr", ":8080", "Listen address")
	logLevel      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	pollTimeout   = flag.Duration("poll-timeout", relay.DefaultPollTimeout, "Mux long-poll timeout")
	telemetryMax  = flag.Int("telemetry-max", relay.DefaultMaxTelemetryBatches, "Telemetry batches to retain")
	telemetryRate = flag.Float64("telemetry-rate", float64(relay.DefaultTelemetryRate), "Telemetry requests/sec per client")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := relay.DefaultConfig()
	cfg.Logger = logger
	cfg.PollTimeout = *pollTimeout
	cfg.MaxTelemetryBatches = *telemetryMax
	cfg.TelemetryRate = rate.Limit(*telemetryRate)

	srv := &http.Server{
		Addr:    *addr,
		Handler: relay.New(cfg).Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
