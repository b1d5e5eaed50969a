package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowmind/orchestrator/internal/component"
	"github.com/flowmind/orchestrator/internal/config"
	"github.com/flowmind/orchestrator/internal/transport"
)

// ServeCmd starts the session transport server (spec.md §6).
type ServeCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := prometheus.NewRegistry()
	mgr, err := component.New(ctx, cfg, registry, logger())
	if err != nil {
		return fmt.Errorf("building components: %w", err)
	}
	defer mgr.Close()

	srv := transport.New(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		mgr.Wrapper(), mgr.RawBus(), logger(),
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1), Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics server stopped", "error", err)
		}
	}()
	defer metricsServer.Shutdown(context.Background())

	slog.Info("orchestrator ready", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		return srv.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

func logger() *slog.Logger { return slog.Default() }
