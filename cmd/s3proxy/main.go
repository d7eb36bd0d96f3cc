// Package main is the entry point for the S3-compatible upload proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/s3proxy/s3proxy/internal/config"
	"github.com/s3proxy/s3proxy/internal/logging"
	"github.com/s3proxy/s3proxy/internal/metrics"
	"github.com/s3proxy/s3proxy/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	addr := flag.String("addr", "", "override listening address (default: from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	// Crash-only design: every startup is recovery. This proxy holds no
	// local state across restarts -- in-flight uploads simply resume as new
	// requests from the client's retry logic.
	srv, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: server.MetricsHandler()}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("metrics listening", "addr", cfg.Server.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		slog.Info("s3proxy listening", "addr", cfg.Server.Address)
		if err := srv.ListenAndServe(cfg.Server.Address); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("proxy shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("metrics shutdown error", "error", err)
		}
		slog.Info("server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
