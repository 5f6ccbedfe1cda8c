package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/fhirgraph/pkg/api"
	"github.com/rmax-ai/fhirgraph/pkg/config"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/store/redis"
)

const defaultMetricsAddr = "127.0.0.1:9090"

type Config struct {
	SourcePath       string
	SchemaPath       string
	SchemaRedis      string
	SchemaRedisKey   string
	Addr             string
	MetricsAddr      string
	Workers          int
	BatchConcurrency int
	UpstreamTimeout  time.Duration
	LogLevel         slog.Level
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	workers, err := intFromEnv("FHIRGRAPH_WORKERS", api.DefaultWorkers)
	if err != nil {
		return Config{}, err
	}
	batch, err := intFromEnv("FHIRGRAPH_BATCH_CONCURRENCY", graph.DefaultBatchConcurrency)
	if err != nil {
		return Config{}, err
	}
	upstreamTimeout := time.Duration(0)
	if v := os.Getenv("FHIRGRAPH_UPSTREAM_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FHIRGRAPH_UPSTREAM_TIMEOUT: %w", err)
		}
		upstreamTimeout = parsed
	}

	flagSet := flag.NewFlagSet("fhirgraph-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSource := flagSet.String("config", envOrDefault("FHIRGRAPH_CONFIG", filepath.Join(cwd, "fhir.yaml")), "path to the FHIR source config (YAML)")
	flagSchema := flagSet.String("schema", os.Getenv("FHIRGRAPH_SCHEMA"), "path to the edge schema produced by discovery")
	flagRedis := flagSet.String("schema-redis", os.Getenv("FHIRGRAPH_SCHEMA_REDIS"), "redis address to load the published edge schema from")
	flagRedisKey := flagSet.String("schema-redis-key", envOrDefault("FHIRGRAPH_SCHEMA_REDIS_KEY", redis.DefaultKey), "redis key of the published edge schema")
	flagAddr := flagSet.String("addr", os.Getenv("FHIRGRAPH_ADDR"), "gRPC listen address (default: PORT from the source config)")
	flagMetrics := flagSet.String("metrics-addr", envOrDefault("FHIRGRAPH_METRICS_ADDR", defaultMetricsAddr), "HTTP address for /metrics and /v1/health; empty disables")
	flagWorkers := flagSet.Int("workers", workers, "maximum concurrently executing RPCs")
	flagBatch := flagSet.Int("batch-concurrency", batch, "concurrent lookups per GetRowsByID stream")
	flagTimeout := flagSet.String("upstream-timeout", upstreamTimeout.String(), "timeout for each FHIR request; 0 disables")
	flagLogLevel := flagSet.String("log-level", envOrDefault("FHIRGRAPH_LOG_LEVEL", "info"), "debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
		}
		return Config{}, err
	}

	timeout, err := time.ParseDuration(*flagTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("invalid upstream timeout: %w", err)
	}
	level, err := config.ParseLogLevel(*flagLogLevel)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		SourcePath:       resolvePath(*flagSource, cwd),
		SchemaPath:       resolvePath(*flagSchema, cwd),
		SchemaRedis:      strings.TrimSpace(*flagRedis),
		SchemaRedisKey:   strings.TrimSpace(*flagRedisKey),
		Addr:             strings.TrimSpace(*flagAddr),
		MetricsAddr:      strings.TrimSpace(*flagMetrics),
		Workers:          *flagWorkers,
		BatchConcurrency: *flagBatch,
		UpstreamTimeout:  timeout,
		LogLevel:         level,
	}

	if cfg.SchemaPath == "" && cfg.SchemaRedis == "" {
		return Config{}, errors.New("one of -schema or -schema-redis is required")
	}
	if cfg.SchemaPath != "" && cfg.SchemaRedis != "" {
		return Config{}, errors.New("-schema and -schema-redis are mutually exclusive")
	}
	if cfg.SchemaRedis != "" && cfg.SchemaRedisKey == "" {
		return Config{}, errors.New("schema-redis-key cannot be empty")
	}
	if cfg.Workers <= 0 {
		return Config{}, errors.New("workers must be positive")
	}
	if cfg.BatchConcurrency <= 0 {
		return Config{}, errors.New("batch concurrency must be positive")
	}
	if cfg.UpstreamTimeout < 0 {
		return Config{}, errors.New("upstream timeout cannot be negative")
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intFromEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
