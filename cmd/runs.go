package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/legis-cli/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the ingestion run log",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max runs to show")
	runsStatsCmd.Flags().Int("limit", 100, "max runs to aggregate")
	runsCmd.AddCommand(runsListCmd, runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular summary of runs to out.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tPROCESSED\tPERSISTED\tSKIPPED\tERROR")
	for _, r := range runs {
		processed, persisted, skipped := "-", "-", "-"
		if r.Summary != nil {
			processed = fmt.Sprintf("%d", r.Summary.Processed)
			persisted = fmt.Sprintf("%d", r.Summary.Persisted)
			skipped = fmt.Sprintf("%d", r.Summary.Skipped)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format(time.DateTime),
			runDuration(r),
			processed,
			persisted,
			skipped,
			truncate(r.Error, 40),
		)
	}
	_ = w.Flush()
}

func runDuration(r model.Run) string {
	if r.CompletedAt == nil {
		return "-"
	}
	return r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// runStats aggregates a slice of runs.
type runStats struct {
	Total       int
	Complete    int
	Failed      int
	Running     int
	Processed   int
	Persisted   int
	Failures    int
	AvgDuration time.Duration
}

func computeRunStats(runs []model.Run) runStats {
	var s runStats
	var total time.Duration
	var timed int
	for _, r := range runs {
		s.Total++
		switch r.Status {
		case model.RunStatusComplete:
			s.Complete++
		case model.RunStatusFailed:
			s.Failed++
		case model.RunStatusRunning:
			s.Running++
		}
		if r.Summary != nil {
			s.Processed += r.Summary.Processed
			s.Persisted += r.Summary.Persisted
			s.Failures += r.Summary.PersistFailures
		}
		if r.CompletedAt != nil {
			total += r.CompletedAt.Sub(r.StartedAt)
			timed++
		}
	}
	if timed > 0 {
		s.AvgDuration = total / time.Duration(timed)
	}
	return s
}

func formatRunStats(out io.Writer, s runStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Runs\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Running\t%d\n", s.Running)
	_, _ = fmt.Fprintf(w, "Processed\t%d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "Persisted\t%d\n", s.Persisted)
	_, _ = fmt.Fprintf(w, "Persist failures\t%d\n", s.Failures)
	_, _ = fmt.Fprintf(w, "Avg duration\t%s\n", s.AvgDuration.Round(time.Second))
	_ = w.Flush()
}
