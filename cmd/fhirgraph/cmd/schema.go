package cmd

import (
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rmax-ai/fhirgraph/pkg/schema"
	"github.com/rmax-ai/fhirgraph/pkg/store/redis"
)

func newSchemaCmd(_ *rootOptions) *cobra.Command {
	var (
		path      string
		redisAddr string
		redisKey  string
	)

	withStore := func(fn func(*redis.SchemaStore) error) error {
		if redisAddr == "" {
			return errors.New("--redis-addr is required")
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: redisAddr})
		defer rdb.Close()
		return fn(redis.NewSchemaStore(rdb, redisKey))
	}

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect an edge schema file or the published schema",
	}
	cmd.PersistentFlags().StringVar(&path, "schema", "", "schema file to read")
	cmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", envOrDefault("FHIRGRAPH_SCHEMA_REDIS", ""), "redis server holding the published schema")
	cmd.PersistentFlags().StringVar(&redisKey, "redis-key", redis.DefaultKey, "redis key of the published schema")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the schema and its edge collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var edges *schema.EdgeSchema
			if path != "" {
				var err error
				if edges, err = schema.Load(path); err != nil {
					return err
				}
			} else {
				err := withStore(func(st *redis.SchemaStore) error {
					var err error
					if edges, err = st.Load(cmd.Context()); err != nil {
						return err
					}
					if pub, err := st.Info(cmd.Context()); err == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "# run %s from %s, published %s\n", pub.RunID, pub.SourceURL, pub.PublishedAt.Format(time.RFC3339))
					}
					return nil
				})
				if err != nil {
					return err
				}
			}

			data, err := edges.Marshal()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(data)
			for _, name := range edges.EdgeCollections() {
				fmt.Fprintf(out, "# %s\n", name)
			}
			return nil
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List the run ids of recent publications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(st *redis.SchemaStore) error {
				ids, err := st.History(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, historyCmd)
	return cmd
}
