package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/store"
)

var initiativesCmd = &cobra.Command{
	Use:     "initiatives",
	Aliases: []string{"ini"},
	Short:   "Query persisted initiatives",
}

var initiativesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List initiatives",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := initiativeFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rows, err := st.ListInitiatives(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "initiatives list")
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No initiatives found.")
			return nil
		}
		formatInitiativesList(cmd.OutOrStdout(), rows)
		return nil
	},
}

var initiativesShowCmd = &cobra.Command{
	Use:   "show <expediente>",
	Short: "Show one initiative with its timeline and edges as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key := args[0]

		st, err := openStore(ctx, "query")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		row, err := st.GetInitiative(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "initiatives show %s", key)
		}
		timeline, err := st.Timeline(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "initiatives show %s: timeline", key)
		}
		edges, err := st.Edges(ctx, key)
		if err != nil {
			return eris.Wrapf(err, "initiatives show %s: edges", key)
		}
		return writeInitiativeDetail(cmd.OutOrStdout(), row, timeline, edges)
	},
}

func init() {
	f := initiativesListCmd.Flags()
	f.String("stage", "", "filter by stage")
	f.String("kind", "", "filter by initiative kind")
	f.String("promoter", "", "filter by promoter")
	f.String("legislature", "", "filter by legislature")
	f.Int("limit", 50, "max initiatives to show")
	f.Int("offset", 0, "rows to skip")

	initiativesCmd.AddCommand(initiativesListCmd, initiativesShowCmd)
	rootCmd.AddCommand(initiativesCmd)
}

func initiativeFilterFromFlags(cmd *cobra.Command) (store.InitiativeFilter, error) {
	f := cmd.Flags()
	var filter store.InitiativeFilter
	if s, _ := f.GetString("stage"); s != "" {
		st, err := model.ParseStage(s)
		if err != nil {
			return filter, err
		}
		filter.Stage = st
	}
	filter.Kind, _ = f.GetString("kind")
	filter.Promoter, _ = f.GetString("promoter")
	filter.Legislature, _ = f.GetString("legislature")
	filter.Limit, _ = f.GetInt("limit")
	filter.Offset, _ = f.GetInt("offset")
	return filter, nil
}

func formatInitiativesList(out io.Writer, rows []store.InitiativeRow) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "EXPEDIENTE\tSTAGE\tKIND\tSUBMITTED\tSUBJECT")
	for _, r := range rows {
		in := r.Initiative
		submitted := "-"
		if in.HasSubmissionDate() {
			submitted = in.SubmissionDate.Format("2006-01-02")
		}
		subject := in.Title
		if subject == "" {
			subject = in.Subject
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			in.Expediente,
			r.Classification.Stage,
			truncate(in.Kind, 30),
			submitted,
			truncate(subject, 60),
		)
	}
	_ = w.Flush()
}

type initiativeDetail struct {
	store.InitiativeRow
	Timeline []model.TimelineEvent `json:"timeline"`
	Edges    []model.Edge          `json:"edges"`
}

func writeInitiativeDetail(out io.Writer, row *store.InitiativeRow, timeline []model.TimelineEvent, edges []model.Edge) error {
	if timeline == nil {
		timeline = []model.TimelineEvent{}
	}
	if edges == nil {
		edges = []model.Edge{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(initiativeDetail{InitiativeRow: *row, Timeline: timeline, Edges: edges})
}
