// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/ninedoor/lib/config"
	"github.com/bureau-foundation/ninedoor/lib/metrics"
	"github.com/bureau-foundation/ninedoor/lib/ninedoor"
	"github.com/bureau-foundation/ninedoor/lib/process"
	"github.com/bureau-foundation/ninedoor/lib/version"
	"github.com/bureau-foundation/ninedoor/transport"
)

// metricsShutdownTimeout bounds how long in-flight scrapes may run
// after shutdown begins.
const metricsShutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		configPath  string
		listen      string
		metricsAddr string
		showVersion bool
	)
	flags := pflag.NewFlagSet("ninedoor", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to ninedoor.yaml (default $NINEDOOR_CONFIG)")
	flags.StringVar(&listen, "listen", "", "Secure9P listen address (unix:/path or host:port)")
	flags.StringVar(&metricsAddr, "metrics", "", "Prometheus listen address; empty disables")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &process.UsageError{Err: err}
	}

	if showVersion {
		version.Print("ninedoor")
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return &process.UsageError{Err: err}
	}
	if flags.Changed("listen") {
		cfg.Listen = listen
	}
	if flags.Changed("metrics") {
		cfg.Metrics = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return &process.UsageError{Err: err}
	}

	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return &process.UsageError{Err: err}
	}
	options, err := buildOptions(cfg, logger)
	if err != nil {
		return &process.UsageError{Err: err}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, options, logger)
}

// loadConfig loads the named file, the file named by NINEDOOR_CONFIG,
// or the defaults, in that order of preference.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv("NINEDOOR_CONFIG") != "":
		return config.Load()
	default:
		cfg := config.Default()
		cfg.ExpandVariables()
		return cfg, nil
	}
}

// serve runs the Secure9P listener and the metrics endpoint until ctx
// is cancelled, then shuts the server down.
func serve(ctx context.Context, cfg *config.Config, options ninedoor.Options, logger *slog.Logger) error {
	server, err := ninedoor.NewServer(options)
	if err != nil {
		return err
	}
	if err := server.Boot(); err != nil {
		return fmt.Errorf("booting: %w", err)
	}

	if err := ensureSocketDirectory(cfg.Listen); err != nil {
		return err
	}
	listener, err := transport.Listen(cfg.Listen, logger)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return listener.Serve(groupCtx, server.ServeConn)
	})
	if cfg.Metrics != "" {
		metricsServer := &http.Server{
			Addr:              cfg.Metrics,
			Handler:           metricsHandler(server.Metrics()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics endpoint listening", "address", cfg.Metrics)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("ninedoor running",
		"version", version.Info(),
		"listen", listener.Address(),
		"state", server.Lifecycle().State(),
	)

	serveErr := group.Wait()
	logger.Info("shutting down")
	if err := server.Shutdown("shutdown"); err != nil {
		logger.Error("flushing telemetry state failed", "error", err)
	}
	return serveErr
}

func metricsHandler(counters *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(counters), promhttp.HandlerOpts{}))
	return mux
}

// ensureSocketDirectory creates the parent of a Unix socket path.
func ensureSocketDirectory(address string) error {
	network, location, err := transport.ParseAddress(address)
	if err != nil || network != "unix" {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	return nil
}
