package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/fhirgraph/pkg/api"
	"github.com/rmax-ai/fhirgraph/pkg/config"
	"github.com/rmax-ai/fhirgraph/pkg/fhir"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
	"github.com/rmax-ai/fhirgraph/pkg/store/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "fhirgraph-d: %v\n", err)
		os.Exit(2)
	}
	config.SetupLogging(os.Stderr, cfg.LogLevel, "fhirgraph-d")
	slog.Info("system_started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("fatal_error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown_complete")
}

func run(ctx context.Context, cfg Config) error {
	source, err := config.Load(cfg.SourcePath)
	if err != nil {
		return err
	}

	var opts []fhir.Option
	if cfg.UpstreamTimeout > 0 {
		opts = append(opts, fhir.WithTimeout(cfg.UpstreamTimeout))
	}
	fc, err := source.NewClient(opts...)
	if err != nil {
		return err
	}

	catalog, err := fc.Describe(ctx)
	if err != nil {
		return fmt.Errorf("failed to describe %s: %w", fc.BaseURL(), err)
	}
	edges, err := loadSchema(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("schema_loaded",
		"source", fc.BaseURL(),
		"resource_types", len(catalog.Resources()),
		"edge_collections", edges.Len(),
	)

	svc := graph.NewService(fc, catalog, edges, graph.WithBatchConcurrency(cfg.BatchConcurrency))

	addr := cfg.Addr
	if addr == "" {
		addr = source.ListenAddr()
	}
	srv := api.NewServer(svc, api.Config{
		Addr:        addr,
		MetricsAddr: cfg.MetricsAddr,
		Workers:     cfg.Workers,
	})
	srv.SetModel(graph.BuildModel("fhir", catalog, edges))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutdown_initiated")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		slog.Error("failed_to_stop_http_listener", "error", err)
	}
	return <-errCh
}

func loadSchema(ctx context.Context, cfg Config) (*schema.EdgeSchema, error) {
	if cfg.SchemaPath != "" {
		return schema.Load(cfg.SchemaPath)
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.SchemaRedis})
	defer client.Close()

	st := redis.NewSchemaStore(client, cfg.SchemaRedisKey)
	edges, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema from redis %s: %w", cfg.SchemaRedis, err)
	}
	if pub, err := st.Info(ctx); err == nil {
		slog.Info("schema_publication", "run_id", pub.RunID, "source", pub.SourceURL, "published_at", pub.PublishedAt)
	}
	return edges, nil
}
