package ingest

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/normalize"
	"github.com/sells-group/legis-cli/internal/resolve"
	"github.com/sells-group/legis-cli/internal/source"
	"github.com/sells-group/legis-cli/internal/stage"
	"github.com/sells-group/legis-cli/internal/timeline"
)

// normalizeAll normalizes entries in parallel and folds the results into a
// working set in batch order, so the last entry for a key wins.
func normalizeAll(ctx context.Context, entries []source.Entry, workers int, sum *model.RunSummary, log *zap.Logger) (*model.WorkingSet, error) {
	results := make([]normalize.Result, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if entries[i].Err != nil {
				results[i] = normalize.Result{Skip: true, Reason: model.SkipUnparseableDoc, Err: entries[i].Err}
				return nil
			}
			results[i] = normalize.Normalize(entries[i].Raw, entries[i].Origin)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ws := model.NewWorkingSet()
	origins := make(map[string]source.Origin, len(entries))
	// Warnings of a document replaced by a later duplicate are not counted.
	warnings := make(map[string]int, len(entries))
	for i, res := range results {
		origin := entries[i].Origin
		if res.Skip {
			sum.AddSkip(res.Reason)
			log.Warn("document skipped",
				zap.String("file", origin.File),
				zap.Int("index", origin.Index),
				zap.String("reason", res.Reason),
				zap.Error(res.Err),
			)
			continue
		}
		for _, w := range res.Warnings {
			log.Debug("normalize warning",
				zap.String("expediente", res.Initiative.Expediente),
				zap.String("file", origin.File),
				zap.String("warning", w),
			)
		}
		key := res.Initiative.Expediente
		if _, replaced := ws.Put(res.Initiative); replaced {
			sum.Duplicates++
			prev := origins[key]
			log.Info("duplicate expediente, later document wins",
				zap.String("expediente", key),
				zap.String("previous_file", prev.File),
				zap.Int("previous_index", prev.Index),
				zap.String("file", origin.File),
				zap.Int("index", origin.Index),
			)
		}
		origins[key] = origin
		warnings[key] = len(res.Warnings)
	}
	for _, n := range warnings {
		sum.Warnings += n
	}
	sum.Processed = ws.Len()
	return ws, nil
}

// derived holds the per-initiative products of one run, keyed by expediente.
type derived struct {
	edges           map[string][]model.Edge
	timelines       map[string][]model.TimelineEvent
	classifications map[string]model.Classification
}

// deriveAll runs the relationship, similarity, timeline and stage stages in
// dependency order over a loaded working set.
func deriveAll(ctx context.Context, ws *model.WorkingSet, sim resolve.Similarity, cls *stage.Classifier, sum *model.RunSummary, log *zap.Logger) (*derived, error) {
	refs := resolve.ResolveReferences(ws)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	similar, stats, err := sim.Compute(ctx, ws)
	if err != nil {
		return nil, err
	}
	log.Info("similarity complete",
		zap.Int("pairs", stats.Pairs),
		zap.Int("prefiltered", stats.Prefiltered),
		zap.Int("computed", stats.Computed),
		zap.Int("matches", stats.Matches),
	)

	d := &derived{
		edges:           model.GroupEdgesBySource(append(refs, similar...)),
		timelines:       make(map[string][]model.TimelineEvent, ws.Len()),
		classifications: make(map[string]model.Classification, ws.Len()),
	}
	for _, e := range refs {
		sum.Edges[e.Kind]++
	}
	sum.Edges[model.EdgeSimilar] += len(similar)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, in := range ws.Initiatives() {
		tl := timeline.Extract(in.ProcedureText)
		d.timelines[in.Expediente] = tl.Events
		sum.TimelineEvents += len(tl.Events)
		sum.TimelineSkippedLines += tl.SkippedLines
		if tl.SkippedLines > 0 {
			log.Debug("timeline lines skipped",
				zap.String("expediente", in.Expediente),
				zap.Int("lines", tl.SkippedLines),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, in := range ws.Initiatives() {
		c := cls.Classify(in)
		d.classifications[in.Expediente] = c
		sum.Stages[c.Stage]++
	}
	return d, nil
}

// records assembles one Record per initiative in key order.
func (d *derived) records(ws *model.WorkingSet) []model.Record {
	out := make([]model.Record, 0, ws.Len())
	for _, in := range ws.Initiatives() {
		key := in.Expediente
		tl := d.timelines[key]
		if tl == nil {
			tl = []model.TimelineEvent{}
		}
		edges := d.edges[key]
		if edges == nil {
			edges = []model.Edge{}
		}
		out = append(out, model.Record{
			Initiative:     in,
			Timeline:       tl,
			Edges:          edges,
			Classification: d.classifications[key],
		})
	}
	return out
}
