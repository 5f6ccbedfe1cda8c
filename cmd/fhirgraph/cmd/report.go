package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmax-ai/fhirgraph/pkg/discovery"
	"github.com/rmax-ai/fhirgraph/pkg/store"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
		format string
	)

	openStore := func() (*store.Store, error) {
		if dbPath == "" {
			return nil, fmt.Errorf("--report-db is required")
		}
		return store.NewStore(dbPath)
	}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect recorded discovery runs",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "csv":
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
			return cmd.Root().PersistentPreRunE(cmd, args)
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "report-db", envOrDefault("FHIRGRAPH_REPORT_DB", ""), "SQLite database written by discover --report-db")
	cmd.PersistentFlags().StringVar(&format, "format", "table", "table|json|csv")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), runs)
			case "csv":
				return writeRunsCSV(cmd.OutOrStdout(), runs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSOURCE\tSTARTED\tACCEPTED\tAMBIGUOUS\tEMPTY\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n", r.RunID, r.SourceURL, r.StartedAt.Format(time.RFC3339), r.Accepted, r.Ambiguous, r.Empty, r.Failed)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run; without an id, the latest run for the configured source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var report *discovery.Report
			if len(args) == 1 {
				report, err = st.GetReport(cmd.Context(), args[0])
			} else {
				sourceURL := ""
				if fc, cerr := root.fhirClient(); cerr == nil {
					sourceURL = fc.BaseURL()
				}
				report, err = st.LatestReport(cmd.Context(), sourceURL)
			}
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), report)
			case "csv":
				return writePairsCSV(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\nsource %s\nstarted %s, took %s, sample limit %d\n\n",
				report.RunID, report.SourceURL, report.StartedAt.Format(time.RFC3339),
				report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond), report.SampleLimit)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tFIELD\tOUTCOME\tSAMPLED\tMALFORMED\tTARGETS\tERROR")
			for _, p := range report.Pairs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", p.SourceType, p.Field, p.Outcome, p.Sampled, p.Malformed, strings.Join(p.Targets, ","), p.Error)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(listCmd, showCmd)
	return cmd
}

func writeRunsCSV(w io.Writer, runs []store.RunSummary) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"run_id", "source_url", "started_at", "finished_at", "sample_limit", "accepted", "ambiguous", "empty", "failed"})
	for _, r := range runs {
		cw.Write([]string{
			r.RunID, r.SourceURL,
			r.StartedAt.Format(time.RFC3339), r.FinishedAt.Format(time.RFC3339),
			strconv.Itoa(r.SampleLimit),
			strconv.Itoa(r.Accepted), strconv.Itoa(r.Ambiguous), strconv.Itoa(r.Empty), strconv.Itoa(r.Failed),
		})
	}
	cw.Flush()
	return cw.Error()
}

func writePairsCSV(w io.Writer, report *discovery.Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"run_id", "source_type", "field", "outcome", "sampled", "malformed", "targets", "error"})
	for _, p := range report.Pairs {
		cw.Write([]string{
			report.RunID, p.SourceType, p.Field, string(p.Outcome),
			strconv.Itoa(p.Sampled), strconv.Itoa(p.Malformed),
			strings.Join(p.Targets, ";"), p.Error,
		})
	}
	cw.Flush()
	return cw.Error()
}
