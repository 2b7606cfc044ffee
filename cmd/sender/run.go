package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/relay-sender/internal/config"
	"github.com/rickgao/relay-sender/internal/connection"
	"github.com/rickgao/relay-sender/internal/console"
	"github.com/rickgao/relay-sender/internal/health"
	"github.com/rickgao/relay-sender/internal/logging"
	"github.com/rickgao/relay-sender/internal/metrics"
	"github.com/rickgao/relay-sender/internal/picker"
	"github.com/rickgao/relay-sender/internal/version"
)

const (
	pingInterval    = 30 * time.Second
	messageBuffer   = 256
	shutdownTimeout = 10 * time.Second
)

type runOptions struct {
	configPath string
	envFile    string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the relay server and start sending",
		Long: `Connect to the relay server and send one message every sender.interval.
Without --config the built-in defaults are used (ws://localhost:8000/ws/client1).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (defaults when empty)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before config expansion")

	return cmd
}

func run(ctx context.Context, opts *runOptions) error {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return err
	}

	cfg, err := config.LoadAndValidate(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(os.Stdout, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting sender", append(version.LogAttrs(), "config", opts.configPath)...)

	p, err := picker.New(cfg.Sender.Contents, cfg.Sender.Receivers, nil)
	if err != nil {
		return fmt.Errorf("create picker: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	managerOpts := []connection.Option{connection.WithRecorder(m)}
	if printer := consolePrinter(cfg, os.Stdout); printer != nil {
		managerOpts = append(managerOpts, connection.WithReceiveHandler(printer))
	}

	manager := connection.NewManager(managerConfig(cfg), p, logger, managerOpts...)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.HealthEnabled() {
		srv := health.NewServer(
			cfg.Health.Port,
			health.NewHandler(manager, registry, cfg.Health.MetricsPath),
			logger,
		)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	g.Go(func() error {
		if err := manager.Start(gctx); err != nil {
			return fmt.Errorf("start connection manager: %w", err)
		}
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return manager.Stop(shutdownCtx)
	})

	logger.Info("sender running",
		"url", cfg.Endpoint.WSURL(),
		"contents", len(p.Contents()),
		"receivers", len(p.Receivers()),
	)

	err = g.Wait()
	logger.Info("sender stopped")
	return err
}

// consolePrinter returns the receive printer, or nil when console output is disabled.
func consolePrinter(cfg *config.Config, w io.Writer) *console.Printer {
	if !cfg.ConsoleEnabled() {
		return nil
	}
	return console.NewPrinter(w, cfg.ConsoleColor())
}

// managerConfig maps the file configuration onto the connection manager.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	return connection.ManagerConfig{
		WSURL:          cfg.Endpoint.WSURL(),
		ServerAddress:  cfg.Endpoint.HTTPAddress(),
		SendInterval:   cfg.Sender.Interval,
		ReconnectDelay: cfg.Reconnect.Delay,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Endpoint.HandshakeTimeout,
			PingInterval:     pingInterval,
			PingTimeout:      cfg.Endpoint.PingTimeout,
			WriteTimeout:     cfg.Endpoint.WriteTimeout,
			BufferSize:       messageBuffer,
		},
	}
}
