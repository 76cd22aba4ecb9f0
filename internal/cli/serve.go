package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/logagg/internal/api"
	"github.com/roach88/logagg/internal/app"
	"github.com/roach88/logagg/internal/kafkasource"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions

	// OnReady is called with the bound address once the listener is up.
	// Used by tests that serve on port 0.
	OnReady func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregator",
		Long: `Run the HTTP gateway and the consumer.

Configuration comes from the environment (and an optional .env file or
--config YAML file). The ledger is SQLite at DB_PATH unless DATABASE_URL
points at PostgreSQL. REDIS_ADDR enables the hot-key cache; KAFKA_BROKERS
and KAFKA_TOPIC enable the Kafka source.

SIGINT or SIGTERM stops accepting requests, then stops the consumer.

Examples:
  logagg serve
  PORT=9090 DB_PATH=/data/ledger.db logagg serve
  logagg serve --config ./logagg.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, "")
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("error closing ledger", "error", err)
		}
	}()

	appOpts := []app.Option{app.WithLogger(logger)}
	if cache := openCache(ctx, cfg, logger); cache != nil {
		defer cache.Close()
		appOpts = append(appOpts, app.WithCache(cache))
	}
	a := app.New(cfg, backend, appOpts...)
	defer a.Close()

	// The consumer outlives the signal so in-flight requests can still be
	// processed while the server shuts down.
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		return WrapExitError(ExitFailure, "failed to start consumer", err)
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           api.NewRouter(api.NewHandlers(a, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var src *kafkasource.Source
	if cfg.KafkaEnabled() {
		src, err = kafkasource.New(kafkasource.Config{
			Brokers:       cfg.KafkaBrokers(),
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			BatchSize:     cfg.Queue.BatchSize,
			FlushInterval: cfg.Queue.ProcessInterval,
		}, a, logger)
		if err != nil {
			_ = srv.Close()
			return WrapExitError(ExitCommandError, "failed to create kafka source", err)
		}
		go func() {
			if err := src.Run(ctx); err != nil {
				errCh <- fmt.Errorf("kafka source: %w", err)
			}
		}()
	}

	addr := ln.Addr().String()
	logger.Info("aggregator listening",
		"addr", addr,
		"ledger", ledgerName(cfg.Storage.DatabaseURL, cfg.Storage.DBPath),
		"kafka", cfg.KafkaEnabled(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s listening on %s\n", app.ServiceName, app.Version, addr)
	if opts.OnReady != nil {
		opts.OnReady(addr)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("shutting down after failure", "error", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := src.Close(); err != nil {
		logger.Error("kafka source close failed", "error", err)
	}
	a.Close()
	logger.Info("aggregator stopped gracefully")

	if runErr != nil {
		return WrapExitError(ExitFailure, "aggregator failed", runErr)
	}
	return nil
}

// ledgerName describes the ledger without leaking credentials.
func ledgerName(databaseURL, dbPath string) string {
	if databaseURL != "" {
		return "postgres"
	}
	return "sqlite:" + dbPath
}
