// Package main provides the CLI entry point for the dual-protocol proxy
// daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dualproxy/dualproxy/internal/config"
	"github.com/dualproxy/dualproxy/internal/health"
	"github.com/dualproxy/dualproxy/internal/logging"
	"github.com/dualproxy/dualproxy/internal/metrics"
	"github.com/dualproxy/dualproxy/internal/server"
	"github.com/dualproxy/dualproxy/internal/stats"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		proxyAddr   string
		controlAddr string
		logLevel    string
		logFormat   string
	)

	cmd := &cobra.Command{
		Use:     "dualproxyd",
		Short:   "A dual-protocol SOCKS5/HTTP forwarding proxy",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}

			applyFlagOverrides(cfg, cmd.Flags(), proxyAddr, controlAddr, logLevel, logFormat)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}

			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file overlaying the flags below")
	cmd.Flags().StringVar(&proxyAddr, "proxy-addr", "0.0.0.0:1080", "SOCKS5/HTTP listener bind address")
	cmd.Flags().StringVar(&controlAddr, "control-addr", "127.0.0.1:8080", "health/metrics listener bind address (empty disables it)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "text|json")

	return cmd
}

// applyFlagOverrides overlays explicitly-set flags onto cfg, which may
// already carry values loaded from a file.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet, proxyAddr, controlAddr, logLevel, logFormat string) {
	if flags.Changed("proxy-addr") {
		cfg.ProxyAddr = proxyAddr
	}
	if flags.Changed("control-addr") {
		cfg.ControlAddr = controlAddr
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}
}

func run(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	st := stats.New()
	m := metrics.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	srv := server.New(server.Config{
		ProxyAddr: cfg.ProxyAddr,
		Logger:    logger,
		Metrics:   m,
		Stats:     st,
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("proxy server: %w", err)
			cancel()
		}
	}()

	if cfg.ControlAddr != "" {
		healthSrv := health.NewServer(cfg.ControlAddr, st, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthSrv.Run(ctx); err != nil {
				errCh <- fmt.Errorf("control endpoint: %w", err)
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	logger.Info("shutdown complete")
	return nil
}
