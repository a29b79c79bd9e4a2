// Package main is the entry point for the polis-relay binary.
// It relays GlitchTip alert webhooks to Feishu bots.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-relay/pkg/config"
	"github.com/polisai/polis-relay/pkg/dispatch"
	"github.com/polisai/polis-relay/pkg/logging"
	"github.com/polisai/polis-relay/pkg/render"
	"github.com/polisai/polis-relay/pkg/server"
	"github.com/polisai/polis-relay/pkg/telemetry"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	shutdownTimeout  = 10 * time.Second
	// writeTimeout leaves room to answer after a dispatch hits its deadline.
	writeTimeout = server.DefaultDispatchTimeout + 30*time.Second
)

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	Config       string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
	OTLPInsecure bool
	Watch        bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-relay
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-relay",
		Short: "GlitchTip to Feishu alert relay",
		Long: `A relay that receives GlitchTip alert webhooks (Slack format) and forwards
them as Feishu interactive cards to the destinations of a named endpoint.

Alerts are posted to /i/{endpoint}. Configuration is read from the first
existing file among --config, config.yaml, config.yml, config.toml,
config.json and /etc/polis-relay/config.{yaml,toml,json}.

Example:
  polis-relay --config /etc/polis-relay/config.yaml --watch`,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().StringP("log-level", "l", defaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", defaultLogFormat, "Log format (json, text)")
	rootCmd.PersistentFlags().String("otlp-endpoint", "", "OTLP gRPC endpoint for traces (disabled when empty)")
	rootCmd.PersistentFlags().Bool("otlp-insecure", false, "Disable TLS for the OTLP exporter")
	rootCmd.PersistentFlags().Bool("watch", false, "Reload configuration when the file changes")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server (default)",
		RunE:  runServe,
	}

	exampleCmd := &cobra.Command{
		Use:   "example-config",
		Short: "Write an example configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("failed to get output flag: %w", err)
			}
			if err := config.WriteExample(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Example configuration written to %s\n", output)
			return nil
		},
	}
	exampleCmd.Flags().StringP("output", "o", config.ExampleFile, "Destination path")

	rootCmd.AddCommand(serveCmd, exampleCmd)
	return rootCmd
}

// parseCLIConfig parses command line flags and returns a CLIConfig
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	flags := cmd.Flags()
	cfg := &CLIConfig{}
	var err error

	if cfg.Config, err = flags.GetString("config"); err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if cfg.LogFormat, err = flags.GetString("log-format"); err != nil {
		return nil, fmt.Errorf("failed to get log-format flag: %w", err)
	}
	if cfg.OTLPEndpoint, err = flags.GetString("otlp-endpoint"); err != nil {
		return nil, fmt.Errorf("failed to get otlp-endpoint flag: %w", err)
	}
	if cfg.OTLPInsecure, err = flags.GetBool("otlp-insecure"); err != nil {
		return nil, fmt.Errorf("failed to get otlp-insecure flag: %w", err)
	}
	if cfg.Watch, err = flags.GetBool("watch"); err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}
	return cfg, nil
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cliConfig, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cliConfig.LogLevel,
		Format: cliConfig.LogFormat,
	})
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		Endpoint: cliConfig.OTLPEndpoint,
		Insecure: cliConfig.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	store := config.NewStore(config.StoreOptions{Path: cliConfig.Config, Logger: logger})
	cfg := store.Get()
	meta := store.Metadata()
	logger.Info("Starting polis-relay",
		"config", meta.Path,
		"endpoints", len(cfg.Endpoints),
		"enabled", cfg.EnabledCount(),
	)

	engine := dispatch.NewEngine(dispatch.Options{
		Config:   store,
		Renderer: render.New(render.Options{Logger: logger}),
		Logger:   logger,
	})
	srv := server.New(server.Options{
		Store:           store,
		Dispatcher:      engine,
		Logger:          logger,
		DispatchTimeout: server.DefaultDispatchTimeout,
	})

	if cliConfig.Watch {
		watchPath := meta.Path
		if watchPath == "" {
			watchPath = cliConfig.Config
		}
		if watchPath == "" {
			logger.Warn("No configuration file to watch")
		} else {
			watcher, err := config.Watch(ctx, watchPath, store, logger)
			if err != nil {
				return fmt.Errorf("failed to watch configuration: %w", err)
			}
			defer func() { _ = watcher.Close() }()
			logger.Info("Watching configuration", "path", watchPath)
		}
	}

	// The listen address is fixed at startup; reloads only affect routing.
	addr := net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort))
	httpServer, errCh, err := startServer(addr, srv.Handler(), logger)
	if err != nil {
		return err
	}

	return waitForShutdown(ctx, httpServer, errCh, store, logger)
}

func startServer(addr string, handler http.Handler, logger *slog.Logger) (*http.Server, <-chan error, error) {
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to bind listener on %s: %w", addr, err)
	}

	// Log the actual resolved address (useful when the port is 0)
	logger.Info("Server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return httpServer, errCh, nil
}

func waitForShutdown(ctx context.Context, httpServer *http.Server, errCh <-chan error, store *config.Store, logger *slog.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sighupChan := make(chan os.Signal, 1)
	signal.Notify(sighupChan, syscall.SIGHUP)
	defer signal.Stop(sighupChan)

	for {
		select {
		case sig := <-sigChan:
			logger.Info("Shutting down", "signal", sig.String())
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Shutdown error", "error", err)
				return err
			}
			logger.Info("Relay stopped")
			return nil
		case <-sighupChan:
			res, err := store.ForceReload(ctx)
			if err != nil {
				logger.Error("Failed to reload configuration", "error", err)
				continue
			}
			logger.Info("Received SIGHUP, configuration reloaded",
				"path", res.Metadata.Path,
				"changed", res.Changed,
			)
		case err, ok := <-errCh:
			if ok && err != nil {
				logger.Error("Server failed", "error", err)
				return err
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
