package graph

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-cli/internal/model"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

const schemaCypher = `CREATE CONSTRAINT initiative_expediente IF NOT EXISTS
FOR (i:Initiative) REQUIRE i.expediente IS UNIQUE`

const upsertNodesCypher = `UNWIND $rows AS row
MERGE (i:Initiative {expediente: row.expediente})
SET i += row.props`

const clearEdgesCypher = `UNWIND $keys AS key
MATCH (:Initiative {expediente: key})-[r:RELATED|ORIGIN|SIMILAR]->()
DELETE r`

// edgeCypher creates one relationship type per statement; Cypher cannot
// parameterise relationship types.
var edgeCypher = map[model.EdgeKind]string{
	model.EdgeRelated: `UNWIND $edges AS e
MATCH (s:Initiative {expediente: e.source}), (t:Initiative {expediente: e.target})
CREATE (s)-[:RELATED]->(t)`,
	model.EdgeOrigin: `UNWIND $edges AS e
MATCH (s:Initiative {expediente: e.source}), (t:Initiative {expediente: e.target})
CREATE (s)-[:ORIGIN]->(t)`,
	model.EdgeSimilar: `UNWIND $edges AS e
MATCH (s:Initiative {expediente: e.source}), (t:Initiative {expediente: e.target})
CREATE (s)-[:SIMILAR {score: e.score}]->(t)`,
}

var edgeKinds = []model.EdgeKind{model.EdgeRelated, model.EdgeOrigin, model.EdgeSimilar}

// Exporter writes records as (:Initiative) nodes with RELATED, ORIGIN and
// SIMILAR relationships. Re-exporting the same records is idempotent: nodes
// are merged and each exported node's outgoing relationships are replaced.
type Exporter struct {
	exec      Executor
	batchSize int
	log       *zap.Logger
}

// NewExporter creates an Exporter. batchSize <= 0 uses DefaultBatchSize.
func NewExporter(exec Executor, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{
		exec:      exec,
		batchSize: batchSize,
		log:       zap.L().With(zap.String("component", "graph.export")),
	}
}

// EnsureSchema creates the uniqueness constraint on expediente.
func (x *Exporter) EnsureSchema(ctx context.Context) error {
	if _, err := x.exec.ExecuteQuery(ctx, schemaCypher, nil); err != nil {
		return eris.Wrap(err, "graph: ensure schema")
	}
	return nil
}

// Export writes records and returns the number of nodes merged. All nodes
// are written before any relationship so edge endpoints always exist.
func (x *Exporter) Export(ctx context.Context, records []model.Record) (int, error) {
	start := time.Now()

	nodes := make([]map[string]any, 0, len(records))
	keys := make([]any, 0, len(records))
	edges := make(map[model.EdgeKind][]map[string]any)
	for _, r := range records {
		nodes = append(nodes, nodeRow(r))
		keys = append(keys, r.Initiative.Expediente)
		for _, e := range r.Edges {
			if e.Source != r.Initiative.Expediente {
				continue
			}
			row := map[string]any{"source": e.Source, "target": e.Target}
			if e.Score != nil {
				row["score"] = *e.Score
			}
			edges[e.Kind] = append(edges[e.Kind], row)
		}
	}

	for _, b := range batches(len(nodes), x.batchSize) {
		rows := make([]any, 0, b[1]-b[0])
		for _, n := range nodes[b[0]:b[1]] {
			rows = append(rows, n)
		}
		if err := x.run(ctx, upsertNodesCypher, map[string]any{"rows": rows}); err != nil {
			return 0, eris.Wrap(err, "graph: export nodes")
		}
	}
	for _, b := range batches(len(keys), x.batchSize) {
		if err := x.run(ctx, clearEdgesCypher, map[string]any{"keys": keys[b[0]:b[1]]}); err != nil {
			return len(nodes), eris.Wrap(err, "graph: clear edges")
		}
	}

	total := 0
	for _, kind := range edgeKinds {
		rows := edges[kind]
		for _, b := range batches(len(rows), x.batchSize) {
			batch := make([]any, 0, b[1]-b[0])
			for _, r := range rows[b[0]:b[1]] {
				batch = append(batch, r)
			}
			if err := x.run(ctx, edgeCypher[kind], map[string]any{"edges": batch}); err != nil {
				return len(nodes), eris.Wrapf(err, "graph: export %s edges", kind)
			}
		}
		total += len(rows)
	}

	x.log.Info("graph export complete",
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return len(nodes), nil
}

func (x *Exporter) run(ctx context.Context, query string, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := x.exec.ExecuteQuery(ctx, query, params)
	return err
}

func nodeRow(r model.Record) map[string]any {
	in := r.Initiative
	props := map[string]any{
		"kind":        in.Kind,
		"subject":     in.Subject,
		"promoter":    in.Promoter,
		"legislature": in.Legislature,
		"committee":   in.Committee,
		"stage":       string(r.Classification.Stage),
		"step":        int64(r.Classification.Step),
		"title":       in.Title,
		"source_file": in.SourceFile,
		"links":       strings.Join(in.Links, " "),
		// Null removes a stale property on SET +=.
		"submission_date": nil,
	}
	if in.HasSubmissionDate() {
		props["submission_date"] = in.SubmissionDate.Format(time.DateOnly)
	}
	return map[string]any{"expediente": in.Expediente, "props": props}
}

// batches splits [0,n) into [lo,hi) ranges of at most size.
func batches(n, size int) [][2]int {
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}
