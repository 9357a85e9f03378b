package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"eventflow/internal/config"
	"eventflow/internal/cursor"
	"eventflow/internal/endpoint"
	"eventflow/internal/model"
	"eventflow/internal/pipeline"
	"eventflow/internal/schema"
	"eventflow/internal/sink"
	"eventflow/internal/source"
	"eventflow/internal/status"
)

func main() {
	root := &cobra.Command{
		Use:          "eventflow",
		Short:        "Resumable onchain event ingestion pipeline",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline",
		RunE:  runPipeline,
	}

	runCmd.Flags().String("pipeline", "default", "pipeline name (cursor key)")
	runCmd.Flags().StringSlice("endpoint", nil, "endpoints as name=url (comma-separated)")
	runCmd.Flags().String("auth-token", "", "bearer token sent to every endpoint")
	runCmd.Flags().StringSlice("address", nil, "contract addresses (comma-separated)")
	runCmd.Flags().StringSlice("schema", nil, "event schemas to ingest, empty means all")
	runCmd.Flags().Uint64("from", 0, "start block when no cursor is persisted")
	runCmd.Flags().Uint64("window", 2000, "blocks per fetch window")
	runCmd.Flags().Duration("poll-interval", 3*time.Second, "tip poll interval")
	runCmd.Flags().Duration("request-timeout", 15*time.Second, "per-request timeout")
	runCmd.Flags().Uint64("progress-every", 10000, "blocks between progress lines")
	runCmd.Flags().String("sink", "jsonl", "sink backend (jsonl, postgres)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("out-dir", "./data", "JSONL output directory")
	runCmd.Flags().Int("max-attempts", 5, "sink write attempts per batch")
	runCmd.Flags().Duration("write-backoff", 500*time.Millisecond, "initial sink retry backoff")
	runCmd.Flags().String("cursor-backend", "file", "cursor backend for the jsonl sink (file, redis)")
	runCmd.Flags().String("cursor-path", "./data/cursor.json", "cursor file path")
	runCmd.Flags().String("redis-addr", "", "redis address for the redis cursor backend")
	runCmd.Flags().String("redis-password", "", "redis password")
	runCmd.Flags().Int("redis-db", 0, "redis database")
	runCmd.Flags().Duration("reconnect-base", 500*time.Millisecond, "initial reconnect backoff")
	runCmd.Flags().Duration("reconnect-max", 2*time.Minute, "reconnect backoff cap")
	runCmd.Flags().String("status-addr", ":8080", "status/metrics listen address")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	schemasCmd := &cobra.Command{
		Use:   "schemas",
		Short: "List the builtin event schemas",
		RunE:  runSchemas,
	}
	root.AddCommand(schemasCmd)

	cursorCmd := &cobra.Command{
		Use:   "cursor",
		Short: "Print the persisted cursor",
		RunE:  runCursor,
	}
	cursorCmd.Flags().String("pipeline", "default", "pipeline name (cursor key)")
	cursorCmd.Flags().String("sink", "jsonl", "sink backend (jsonl, postgres)")
	cursorCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cursorCmd.Flags().String("cursor-backend", "file", "cursor backend (file, redis)")
	cursorCmd.Flags().String("cursor-path", "./data/cursor.json", "cursor file path")
	cursorCmd.Flags().String("redis-addr", "", "redis address")
	cursorCmd.Flags().String("redis-password", "", "redis password")
	cursorCmd.Flags().Int("redis-db", 0, "redis database")
	root.AddCommand(cursorCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	selected, err := schema.Select(cfg.Schemas)
	if err != nil {
		return err
	}
	registry, err := schema.NewRegistry(selected)
	if err != nil {
		return err
	}

	addresses, err := source.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}

	specs, err := config.ParseEndpoints(cfg.Endpoints)
	if err != nil {
		return err
	}
	endpoints := make([]model.Endpoint, 0, len(specs))
	for _, spec := range specs {
		endpoints = append(endpoints, model.Endpoint{
			Name:      spec.Name,
			URL:       spec.URL,
			AuthToken: cfg.AuthToken,
		})
	}
	pool := endpoint.NewPool(endpoints)

	filter := source.Filter{{
		Addresses: addresses,
		Topics:    [4][]common.Hash{registry.Topic0s()},
	}}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dataSink, store, err := buildSink(ctx, cfg, registry)
	if err != nil {
		return err
	}
	defer dataSink.Close()

	writer := sink.NewWriter(dataSink, cfg.MaxAttempts, cfg.WriteBackoff, logger)

	cur, found, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		cur = model.Cursor{NextBlock: cfg.FromBlock}
	}
	tracker := cursor.NewTracker(cur, logger)
	stats := pipeline.NewStats()

	orch, err := pipeline.NewOrchestrator(pipeline.Config{
		Filter:         filter,
		Window:         cfg.Window,
		RequestTimeout: cfg.RequestTimeout,
		PollInterval:   cfg.PollInterval,
		ProgressEvery:  cfg.ProgressEvery,
		Reconnect: pipeline.Backoff{
			Base: cfg.ReconnectBase,
			Max:  cfg.ReconnectMax,
		},
	}, pool, pipeline.DialConnector(), registry, writer, tracker, stats, logger)
	if err != nil {
		return err
	}

	statusSrv := status.NewServer(cfg.StatusAddr, cfg.Pipeline, stats, tracker, pool, logger)
	go func() {
		if err := statusSrv.Start(); err != nil {
			logger.Error("status server", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown", zap.Error(err))
		}
	}()

	logger.Info("pipeline start",
		zap.String("pipeline", cfg.Pipeline),
		zap.Int("endpoints", len(endpoints)),
		zap.Int("schemas", len(selected)),
		zap.Int("addresses", len(addresses)),
		zap.Uint64("next_block", tracker.Snapshot().NextBlock),
		zap.Uint64("window", cfg.Window),
		zap.String("sink", cfg.Sink),
		zap.String("status_addr", cfg.StatusAddr),
	)

	err = orch.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("pipeline stopped", zap.Uint64("next_block", tracker.Snapshot().NextBlock))
	return nil
}

// buildSink returns the batch sink and the cursor store it resumes
// from. The postgres sink is its own store: rows and cursor commit in
// one transaction. The jsonl sink composes a file or redis store.
func buildSink(ctx context.Context, cfg config.Config, registry *schema.Registry) (sink.Sink, cursor.Store, error) {
	switch cfg.Sink {
	case "postgres":
		pg, err := sink.NewPostgres(ctx, cfg.PGDSN, cfg.Pipeline, sink.SpecsFromRegistry(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return pg, pg, nil
	case "jsonl":
		store, err := buildStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return sink.NewJSONL(cfg.OutDir, store), store, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink: %s", cfg.Sink)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (cursor.Store, error) {
	switch cfg.CursorBackend {
	case "file":
		return cursor.NewFileStore(cfg.CursorPath), nil
	case "redis":
		store, err := cursor.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.Pipeline)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cursor backend: %s", cfg.CursorBackend)
	}
}

func runSchemas(cmd *cobra.Command, _ []string) error {
	registry, err := schema.NewRegistry(schema.Builtins())
	if err != nil {
		return err
	}
	for _, c := range registry.Schemas() {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-16s %s\n    %s\n",
			c.Name, c.Table, c.Topic0.Hex(), c.Event.Sig)
	}
	return nil
}

func runCursor(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store cursor.Store
	if cfg.Sink == "postgres" {
		pg, err := sink.NewPostgres(ctx, cfg.PGDSN, cfg.Pipeline, nil)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		store = pg
	} else {
		store, err = buildStore(ctx, cfg)
		if err != nil {
			return err
		}
	}

	cur, found, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !found {
		fmt.Fprintln(cmd.OutOrStdout(), "no cursor persisted")
		return nil
	}

	out, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
