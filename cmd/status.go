package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/legis-cli/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show row counts per table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Ping(ctx); err != nil {
			return eris.Wrap(err, "status")
		}
		counts, err := st.Counts(ctx)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		formatCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// formatCounts writes one line per table in schema order.
func formatCounts(out io.Writer, counts map[string]int64) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tROWS")
	for _, table := range store.Tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", table, counts[table])
	}
	_ = w.Flush()
}
