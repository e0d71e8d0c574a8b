package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/legis-cli/internal/config"
	"github.com/sells-group/legis-cli/internal/enrich"
	"github.com/sells-group/legis-cli/internal/graph"
	"github.com/sells-group/legis-cli/internal/ingest"
	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/resilience"
	"github.com/sells-group/legis-cli/internal/source"
	"github.com/sells-group/legis-cli/internal/stage"
	"github.com/sells-group/legis-cli/internal/store"
	"github.com/sells-group/legis-cli/pkg/anthropic"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a directory of parliamentary exports",
	Long:  "Reads every supported export under the source directory, derives timelines, edges and stages, and persists one record per initiative.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log := zap.L().With(zap.String("command", "ingest"))

		applyIngestFlags(cmd, cfg)
		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		loader, err := buildLoader(cfg.Source)
		if err != nil {
			return err
		}
		classifier, err := buildClassifier(cfg.Stage)
		if err != nil {
			return err
		}

		var st store.Store
		if !cfg.Ingest.DryRun {
			st, err = openStore(ctx, "ingest")
			if err != nil {
				return eris.Wrap(err, "ingest: open store")
			}
			defer st.Close() //nolint:errcheck
		}

		var opts []ingest.Option
		if cfg.Enrich.Enabled {
			opts = append(opts, ingest.WithEnricher(buildEnricher(cfg)))
		}
		if cfg.Graph.Enabled() && !cfg.Ingest.DryRun {
			exec, exporter := buildExporter(ctx, cfg.Graph, log)
			if exec != nil {
				defer exec.Close(context.WithoutCancel(ctx)) //nolint:errcheck
				opts = append(opts, ingest.WithExporter(exporter))
			}
		}

		engine := ingest.NewEngine(loader, classifier, st, ingest.Config{
			SimilarityThreshold:    cfg.Ingest.SimilarityThreshold,
			Concurrency:            cfg.Ingest.Concurrency,
			MaxConsecutiveFailures: cfg.Store.MaxConsecutiveFailures,
		}, opts...)

		sum, runErr := engine.Run(ctx, ingest.Options{
			SourceDir: cfg.Source.Dir,
			DryRun:    cfg.Ingest.DryRun,
		})
		formatSummary(cmd.OutOrStdout(), sum, cfg.Ingest.DryRun)
		return runErr
	},
}

func init() {
	addIngestFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}

func addIngestFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("source", "", "source directory (overrides source.dir)")
	f.Float64("threshold", 0, "similarity threshold in (0,1] (overrides ingest.similarity_threshold)")
	f.Int("concurrency", 0, "normalization workers (overrides ingest.concurrency)")
	f.Bool("dry-run", false, "compute everything but write nothing")
	f.Bool("no-enrich", false, "skip AI title generation")
	f.Bool("no-graph", false, "skip graph export")
}

// applyIngestFlags copies explicitly set flags over the loaded config.
func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("source") {
		c.Source.Dir, _ = f.GetString("source")
	}
	if f.Changed("threshold") {
		c.Ingest.SimilarityThreshold, _ = f.GetFloat64("threshold")
	}
	if f.Changed("concurrency") {
		c.Ingest.Concurrency, _ = f.GetInt("concurrency")
	}
	if dry, _ := f.GetBool("dry-run"); dry {
		c.Ingest.DryRun = true
	}
	if off, _ := f.GetBool("no-enrich"); off {
		c.Enrich.Enabled = false
	}
	if off, _ := f.GetBool("no-graph"); off {
		c.Graph.URI = ""
	}
}

func buildLoader(c config.SourceConfig) (*source.Loader, error) {
	formats, err := source.ParseFormats(c.Formats)
	if err != nil {
		return nil, err
	}
	l := source.NewLoader(formats)
	if c.XMLElement != "" {
		l.XMLElement = c.XMLElement
	}
	if c.CSVDelimiter != "" {
		r, size := utf8.DecodeRuneInString(c.CSVDelimiter)
		if size != len(c.CSVDelimiter) {
			return nil, eris.Errorf("config: csv_delimiter must be one character, got %q", c.CSVDelimiter)
		}
		l.CSVDelimiter = r
	}
	return l, nil
}

func buildClassifier(c config.StageConfig) (*stage.Classifier, error) {
	var (
		rules *stage.Rules
		err   error
	)
	if c.RulesFile != "" {
		rules, err = stage.LoadRules(c.RulesFile)
	} else {
		rules, err = stage.DefaultRules()
	}
	if err != nil {
		return nil, err
	}
	return stage.New(rules), nil
}

func buildEnricher(c *config.Config) *enrich.Enricher {
	client := anthropic.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
	titler := enrich.NewAnthropicTitler(client, c.Enrich.Model, c.Enrich.MaxTokens)
	retry := resilience.DefaultPolicy()
	if c.Enrich.MaxAttempts > 0 {
		retry.Attempts = c.Enrich.MaxAttempts
	}
	return enrich.New(titler, nil, enrich.Config{
		RequestsPerSecond: c.Enrich.RequestsPerSecond,
		FailureThreshold:  c.Enrich.FailureThreshold,
		Cooldown:          c.Enrich.Cooldown(),
		Retry:             retry,
	})
}

// buildExporter connects to Neo4j. A connection or schema failure disables
// export for this run and returns nils.
func buildExporter(ctx context.Context, c config.GraphConfig, log *zap.Logger) (graph.Executor, *graph.Exporter) {
	exec, err := graph.Connect(ctx, graph.Config{
		URI:      c.URI,
		Username: c.Username,
		Password: c.Password,
		Database: c.Database,
		Timeout:  time.Duration(c.TimeoutSecs) * time.Second,
	})
	if err != nil {
		log.Warn("graph export disabled", zap.Error(err))
		return nil, nil
	}
	exporter := graph.NewExporter(exec, c.BatchSize)
	if err := exporter.EnsureSchema(ctx); err != nil {
		log.Warn("graph export disabled", zap.Error(err))
		_ = exec.Close(ctx)
		return nil, nil
	}
	return exec, exporter
}

// formatSummary prints the run summary as an aligned table.
func formatSummary(out io.Writer, sum *model.RunSummary, dryRun bool) {
	if sum == nil {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(label string, v any) { _, _ = fmt.Fprintf(w, "%s\t%v\n", label, v) }

	row("Run", sum.RunID)
	if dryRun {
		row("Mode", "dry-run")
	}
	row("Files", sum.Files)
	row("Documents", sum.Documents)
	row("Processed", sum.Processed)
	row("Skipped", sum.Skipped)
	for _, reason := range sortedKeys(sum.SkipReasons) {
		row("  "+reason, sum.SkipReasons[reason])
	}
	row("Duplicates", sum.Duplicates)
	row("Warnings", sum.Warnings)
	row("Timeline events", sum.TimelineEvents)
	for _, kind := range []model.EdgeKind{model.EdgeRelated, model.EdgeOrigin, model.EdgeSimilar} {
		row("Edges "+string(kind), sum.Edges[kind])
	}
	for _, st := range model.Stages {
		if n := sum.Stages[st]; n > 0 {
			row("Stage "+string(st), n)
		}
	}
	if sum.Titled > 0 || sum.EnrichDegraded > 0 {
		row("Titled", sum.Titled)
		row("Titles degraded", sum.EnrichDegraded)
	}
	if !dryRun {
		row("Persisted", sum.Persisted)
		row("Persist failures", sum.PersistFailures)
	}
	if sum.GraphExported > 0 {
		row("Graph exported", sum.GraphExported)
	}
	row("Elapsed", sum.Elapsed.Round(time.Millisecond))
	_ = w.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
