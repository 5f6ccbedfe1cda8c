package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/fhirgraph/pkg/discovery"
	"github.com/rmax-ai/fhirgraph/pkg/graph"
	"github.com/rmax-ai/fhirgraph/pkg/schema"
	"github.com/rmax-ai/fhirgraph/pkg/store"
	"github.com/rmax-ai/fhirgraph/pkg/store/redis"
)

// ErrPartialDiscovery is returned when pairs failed and --allow-partial is off.
var ErrPartialDiscovery = errors.New("discovery incomplete")

type discoverOptions struct {
	sampleLimit  int
	output       string
	graphModel   string
	redisAddr    string
	redisKey     string
	reportDB     string
	allowPartial bool
	lockTTL      time.Duration
}

func newDiscoverCmd(root *rootOptions) *cobra.Command {
	opts := &discoverOptions{}

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Infer the edge schema of the FHIR server",
		Long: `Sample every reference search parameter of the FHIR server and keep the
parameters whose references all point at one resource type.

Examples:
  fhirgraph discover -c fhir.yaml -o edges.yaml
  fhirgraph discover -c fhir.yaml --report-db runs.db --redis-addr 127.0.0.1:6379`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.sampleLimit, "sample-limit", discovery.DefaultSampleLimit, "resources sampled per reference parameter")
	flags.StringVarP(&opts.output, "output", "o", "edges.yaml", "where to write the schema; - for stdout")
	flags.StringVar(&opts.graphModel, "graph-model", "", "also write the graph model for the host to this path")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "publish the schema to this redis server")
	flags.StringVar(&opts.redisKey, "redis-key", redis.DefaultKey, "redis key for the published schema")
	flags.StringVar(&opts.reportDB, "report-db", "", "record the run report in this SQLite database")
	flags.BoolVar(&opts.allowPartial, "allow-partial", false, "write the schema even when some pairs failed")
	flags.DurationVar(&opts.lockTTL, "lock-ttl", discovery.DefaultLockTTL, "TTL of the per-source discovery lock")
	return cmd
}

func runDiscover(ctx context.Context, stdout, stderr io.Writer, root *rootOptions, opts *discoverOptions) error {
	fc, err := root.fhirClient()
	if err != nil {
		return err
	}

	var (
		reports *store.Store
		rdb     *goredis.Client
		leases  discovery.LeaseStore
	)
	if opts.reportDB != "" {
		if reports, err = store.NewStore(opts.reportDB); err != nil {
			return err
		}
		defer reports.Close()
		leases = reports
	}
	if opts.redisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{Addr: opts.redisAddr})
		defer rdb.Close()
		// redis is shared by every operator, a local database is not
		leases = redis.NewLeaseStore(rdb)
	}

	runCtx := ctx
	if leases != nil {
		var lock *discovery.RunLock
		runCtx, lock, err = discovery.AcquireRunLock(ctx, leases, discovery.LockName(fc.BaseURL()), uuid.NewString(), opts.lockTTL)
		if err != nil {
			return err
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	edges, report, err := discovery.New(fc, discovery.WithSampleLimit(opts.sampleLimit)).Run(runCtx)
	if err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, discovery.ErrLockLost) {
			return cause
		}
		return err
	}

	if reports != nil {
		if err := reports.SaveReport(ctx, report); err != nil {
			return err
		}
	}
	fmt.Fprintf(stderr, "run %s: %d accepted, %d ambiguous, %d empty, %d failed\n",
		report.RunID,
		report.Count(discovery.OutcomeAccepted),
		report.Count(discovery.OutcomeAmbiguous),
		report.Count(discovery.OutcomeEmpty),
		report.Count(discovery.OutcomeFailed),
	)

	if report.Partial() && !opts.allowPartial {
		return fmt.Errorf("%w: %d pairs failed, schema not written (use --allow-partial to keep it)", ErrPartialDiscovery, report.Count(discovery.OutcomeFailed))
	}
	if err := context.Cause(runCtx); err != nil {
		return err
	}

	if err := writeSchema(stdout, opts.output, edges); err != nil {
		return err
	}
	if opts.graphModel != "" {
		catalog, err := fc.Describe(runCtx)
		if err != nil {
			return fmt.Errorf("failed to describe source for graph model: %w", err)
		}
		data, err := graph.BuildModel("fhir", catalog, edges).Marshal()
		if err != nil {
			return err
		}
		if err := schema.WriteFile(opts.graphModel, data); err != nil {
			return fmt.Errorf("failed to write graph model: %w", err)
		}
		slog.Info("graph_model_written", "path", opts.graphModel)
	}
	if rdb != nil {
		pub := redis.Publication{RunID: report.RunID, SourceURL: report.SourceURL, PublishedAt: report.FinishedAt}
		if err := redis.NewSchemaStore(rdb, opts.redisKey).Publish(runCtx, edges, pub); err != nil {
			return err
		}
	}
	return nil
}

func writeSchema(stdout io.Writer, path string, edges *schema.EdgeSchema) error {
	if path == "-" {
		data, err := edges.Marshal()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}
	if err := edges.Save(path); err != nil {
		return err
	}
	slog.Info("schema_written", "path", path, "edges", edges.Len())
	return nil
}
