package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/fhirgraph/pkg/client"
	"github.com/rmax-ai/fhirgraph/pkg/config"
	"github.com/rmax-ai/fhirgraph/pkg/fhir"
)

type rootOptions struct {
	configPath      string
	target          string
	logLevel        string
	upstreamTimeout time.Duration
}

// NewRootCommand builds the fhirgraph command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "fhirgraph",
		Short: "Operate a FHIR graph source",
		Long: `fhirgraph discovers the edge schema of a FHIR server and queries a running
fhirgraph-d daemon.

Discovery talks to the FHIR server named in --config. Query commands talk to
the daemon at --target.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := config.ParseLogLevel(opts.logLevel)
			if err != nil {
				return err
			}
			config.SetupLogging(cmd.ErrOrStderr(), level, "fhirgraph")
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", envOrDefault("FHIRGRAPH_CONFIG", "fhir.yaml"), "path to the FHIR source config (YAML)")
	flags.StringVarP(&opts.target, "target", "t", envOrDefault("FHIRGRAPH_TARGET", client.DefaultTarget), "address of the fhirgraph-d daemon")
	flags.StringVar(&opts.logLevel, "log-level", envOrDefault("FHIRGRAPH_LOG_LEVEL", "warn"), "debug|info|warn|error")
	flags.DurationVar(&opts.upstreamTimeout, "upstream-timeout", 0, "timeout for each FHIR request; 0 disables")

	rootCmd.AddCommand(
		newDiscoverCmd(opts),
		newReportCmd(opts),
		newSchemaCmd(opts),
		newCollectionsCmd(opts),
		newDescribeCmd(opts),
		newRowsCmd(opts),
		newGetCmd(opts),
		newFieldCmd(opts),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) fhirClient() (*fhir.Client, error) {
	source, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	var extra []fhir.Option
	if o.upstreamTimeout > 0 {
		extra = append(extra, fhir.WithTimeout(o.upstreamTimeout))
	}
	return source.NewClient(extra...)
}

func (o *rootOptions) dial() (*client.Client, error) {
	return client.Dial(o.target)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
