// ============================================================================
// hello-pool CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the hello server
//
// Command Structure:
//   hello                          # Root command
//   ├── serve                      # Run the server until SIGINT/SIGTERM
//   │   ├── --addr                 # Override server.addr
//   │   └── --workers, -w          # Override pool.workers
//   ├── bench                      # Run the pool scenario without networking
//   ├── config                     # Print the effective configuration
//   ├── --config, -c               # YAML config file (defaults if omitted)
//   └── --version
//
// serve Command:
//   1. Load config
//   2. Build metrics registry, worker pool, shutdown notifier
//   3. Bind the listener, start admin endpoints if enabled
//   4. Run the accept loop until a signal fires the notifier
//   5. Drain in-flight connections, stop admin endpoints
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ChuLiYu/hello-pool/internal/admin"
	"github.com/ChuLiYu/hello-pool/internal/config"
	"github.com/ChuLiYu/hello-pool/internal/httpx"
	"github.com/ChuLiYu/hello-pool/internal/metrics"
	"github.com/ChuLiYu/hello-pool/internal/server"
	"github.com/ChuLiYu/hello-pool/internal/shutdown"
	"github.com/ChuLiYu/hello-pool/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var configFile string

func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "hello",
		Short: "hello: a static HTTP server on a fixed-size worker pool",
		Long: `hello serves two static routes from a fixed pool of workers:
- GET /       hello.html
- GET /sleep  hello.html after a delay
- anything else 404.html

Ctrl-C stops accepting, finishes in-flight requests and exits.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (built-in defaults when empty)")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildBenchCommand())
	rootCmd.AddCommand(buildConfigCommand())

	return rootCmd
}

func buildServeCommand() *cobra.Command {
	var addr string
	var workers int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the hello server",
		Long:  "Listen for connections and serve each one on the worker pool until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("workers") {
				cfg.Pool.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "worker count (overrides pool.workers)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	pool := worker.NewPool(cfg.Pool.Workers,
		worker.WithLogger(log.With("component", "pool")),
		worker.WithMetrics(collector),
		worker.WithRespawn(cfg.Pool.Respawn),
	)

	notifier := shutdown.NewNotifier(shutdown.WithLogger(log.With("component", "shutdown")))
	stopSignals := shutdown.NotifyOnSignal(ctx, notifier)
	defer stopSignals()

	handler := httpx.New(httpx.Config{
		Root:         cfg.Pages.Root,
		SleepDelay:   cfg.Pages.SleepDelay,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, log.With("component", "http"))

	srv := server.New(server.Config{Addr: cfg.Server.Addr}, pool, notifier, handler,
		server.WithLogger(log.With("component", "server")),
		server.WithMetrics(collector),
	)
	if err := srv.Listen(); err != nil {
		pool.Stop()
		return err
	}

	adminCfg := admin.Config{}
	if cfg.Metrics.Enabled {
		adminCfg.MetricsAddr = cfg.Metrics.Addr
	}
	if cfg.Health.Enabled {
		adminCfg.HealthAddr = cfg.Health.Addr
	}
	adminSrv := admin.New(adminCfg, reg, log.With("component", "admin"))
	if err := adminSrv.Start(); err != nil {
		notifier.Fire()
		_ = srv.Serve()
		return err
	}
	adminSrv.DrainOn(notifier.Done())

	log.Info("System started successfully", "addr", srv.Addr().String(), "workers", cfg.Pool.Workers)

	serveErr := srv.Serve()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminSrv.Stop(stopCtx)

	if serveErr != nil {
		return fmt.Errorf("server stopped: %w", serveErr)
	}
	log.Info("System stopped. Goodbye!")
	return nil
}

func buildConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// newLogger builds the process logger from the log section of cfg
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

// Execute runs the CLI and exits non-zero on error
func Execute() {
	if err := BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
