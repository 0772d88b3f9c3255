package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wilhg/agentd/pkg/config"
	"github.com/wilhg/agentd/pkg/httpapi"
	"github.com/wilhg/agentd/pkg/logger"
	"github.com/wilhg/agentd/pkg/mcpserver"
	"github.com/wilhg/agentd/pkg/otel"
)

func runServe(ctx context.Context, cfg *config.Config, _ *pflag.FlagSet, _ []string, stdout, stderr io.Writer) error {
	log, err := initLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.CloseSlog()

	shutdownTracing, err := otel.Init(ctx, otel.Config{
		ServiceName:    "agentd",
		ServiceVersion: version,
		UseStdout:      cfg.Tracing.Stdout,
		Writer:         stdout,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	return serveOn(ctx, cfg, ln, log)
}

// serveOn serves the API on ln until ctx is done, then ends every live
// agent before draining HTTP connections.
func serveOn(ctx context.Context, cfg *config.Config, ln net.Listener, log *slog.Logger) error {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer closeStore()

	svc := newService(cfg, st, newExecutor(cfg, log), log)
	opts := []httpapi.Option{httpapi.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)}
	if cfg.MCP {
		opts = append(opts, httpapi.WithMCP(mcpserver.New(svc, version, mcpserver.WithLogger(log)).Handler()))
	}
	srv := &http.Server{
		Handler:           httpapi.New(svc, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("agentd listening", "addr", ln.Addr().String(), "store", cfg.Store.Backend, "mcp", cfg.MCP)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		// Ending the actors closes open event streams so Shutdown can drain.
		svc.Shutdown(sctx)
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
