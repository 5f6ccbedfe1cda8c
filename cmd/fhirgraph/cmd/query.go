package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/fhirgraph/pkg/client"
)

var errLimitReached = errors.New("limit reached")

// withClient dials the daemon for the duration of fn.
func withClient(root *rootOptions, fn func(*client.Client) error) error {
	c, err := root.dial()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// rowPrinter writes one JSON object per line and stops after limit rows.
func rowPrinter(w io.Writer, limit int) func(client.Row) error {
	enc := json.NewEncoder(w)
	n := 0
	return func(r client.Row) error {
		if err := enc.Encode(r); err != nil {
			return err
		}
		n++
		if limit > 0 && n >= limit {
			return errLimitReached
		}
		return nil
	}
}

func ignoreLimit(err error) error {
	if errors.Is(err, errLimitReached) {
		return nil
	}
	return err
}

func newCollectionsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List vertex and edge collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(root, func(c *client.Client) error {
				names, err := c.Collections(cmd.Context())
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}

func newDescribeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <collection>",
		Short: "Show the searchable fields of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(root, func(c *client.Client) error {
				info, err := c.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

func newRowsCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		idsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "rows <collection>",
		Short: "Stream every row of a collection",
		Long: `Stream every row of a collection as JSON lines.

Examples:
  fhirgraph rows Patient --limit 10
  fhirgraph rows Observation:subject:edges --ids`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(root, func(c *client.Client) error {
				if idsOnly {
					n := 0
					err := c.IDs(cmd.Context(), args[0], func(id string) error {
						fmt.Fprintln(cmd.OutOrStdout(), id)
						n++
						if limit > 0 && n >= limit {
							return errLimitReached
						}
						return nil
					})
					return ignoreLimit(err)
				}
				return ignoreLimit(c.Rows(cmd.Context(), args[0], rowPrinter(cmd.OutOrStdout(), limit)))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many rows; 0 means all")
	cmd.Flags().BoolVar(&idsOnly, "ids", false, "print ids only")
	return cmd
}

func newGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>...",
		Short: "Fetch rows by id in one batch",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, ids := args[0], args[1:]
			reqs := make([]client.RowRequest, len(ids))
			for i, id := range ids {
				reqs[i] = client.RowRequest{Collection: collection, ID: id, RequestID: uint64(i + 1)}
			}
			return withClient(root, func(c *client.Client) error {
				found := 0
				emit := rowPrinter(cmd.OutOrStdout(), 0)
				err := c.RowsByID(cmd.Context(), reqs, func(r client.Row) error {
					found++
					return emit(r)
				})
				if err != nil {
					return err
				}
				if found < len(ids) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d ids not found\n", len(ids)-found, len(ids))
				}
				return nil
			})
		},
	}
}

func newFieldCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "field <collection> <field> <value>",
		Short: "Find rows whose field equals a value",
		Long: `Find rows whose field equals a value. On edge collections the field picks
the lookup direction: the source type is a single fetch, the target type scans
every source resource.

Examples:
  fhirgraph field Patient name Ada
  fhirgraph field Observation:subject:edges '$.Observation' o1
  fhirgraph field Observation:subject:edges '$.Patient' p1`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(root, func(c *client.Client) error {
				return ignoreLimit(c.RowsByField(cmd.Context(), args[0], args[1], args[2], rowPrinter(cmd.OutOrStdout(), limit)))
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many rows; 0 means all")
	return cmd
}
