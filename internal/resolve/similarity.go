package resolve

import (
	"context"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/legis-cli/internal/model"
	"github.com/sells-group/legis-cli/internal/normalize"
)

// DefaultThreshold is the minimum score for a similar edge.
const DefaultThreshold = 0.6

// scorePrecision is the number of decimal places scores are rounded to.
const scorePrecision = 1e6

// Similarity computes similar edges over the folded subject of every
// initiative. Every unordered pair is compared, so cost grows with the
// square of the working set; batches in the low thousands are fine.
type Similarity struct {
	Threshold float64
	Workers   int
}

// Stats counts how unordered pairs were handled.
type Stats struct {
	Pairs       int `json:"pairs"`
	Prefiltered int `json:"prefiltered"`
	Identical   int `json:"identical"`
	Computed    int `json:"computed"`
	Matches     int `json:"matches"`
}

func (s *Stats) add(o Stats) {
	s.Pairs += o.Pairs
	s.Prefiltered += o.Prefiltered
	s.Identical += o.Identical
	s.Computed += o.Computed
	s.Matches += o.Matches
}

type subject struct {
	key    string
	folded string
	length int
}

type match struct {
	j     int
	score float64
}

// Score returns the similarity of two subjects: one minus the edit distance
// over the longer length, after folding. Empty subjects score 0.
func Score(a, b string) float64 {
	fa, fb := normalize.Fold(a), normalize.Fold(b)
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 1
	}
	la, lb := utf8.RuneCountInString(fa), utf8.RuneCountInString(fb)
	return ratio(levenshtein.Distance(fa, fb, nil), max(la, lb))
}

func ratio(distance, maxLen int) float64 {
	return math.Round((1-float64(distance)/float64(maxLen))*scorePrecision) / scorePrecision
}

// Compute scores every unordered pair once and materialises both directions
// for pairs at or above the threshold. Edges are ordered by source key, then
// score descending, then target key.
func (s Similarity) Compute(ctx context.Context, ws *model.WorkingSet) ([]model.Edge, Stats, error) {
	log := zap.L().With(zap.String("component", "resolve.similarity"))

	threshold := s.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}

	var subjects []subject
	for _, key := range ws.Keys() {
		in, _ := ws.Get(key)
		folded := normalize.Fold(in.Subject)
		if folded == "" {
			continue
		}
		subjects = append(subjects, subject{key: key, folded: folded, length: utf8.RuneCountInString(folded)})
	}

	// Row i holds matches against j > i and is written by one goroutine only.
	rows := make([][]match, len(subjects))
	rowStats := make([]Stats, len(subjects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range subjects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i], rowStats[i] = compareRow(subjects, i, threshold)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Stats{}, eris.Wrap(err, "similarity: compute")
	}

	var (
		stats Stats
		edges []model.Edge
	)
	for i, row := range rows {
		stats.add(rowStats[i])
		for _, m := range row {
			a, b := subjects[i].key, subjects[m.j].key
			edges = append(edges, model.SimilarEdge(a, b, m.score), model.SimilarEdge(b, a, m.score))
		}
	}
	sortEdges(edges)

	log.Info("similarity computed",
		zap.Int("subjects", len(subjects)),
		zap.Int("pairs", stats.Pairs),
		zap.Int("prefiltered", stats.Prefiltered),
		zap.Int("identical", stats.Identical),
		zap.Int("computed", stats.Computed),
		zap.Int("matches", stats.Matches),
	)
	return edges, stats, nil
}

func compareRow(subjects []subject, i int, threshold float64) ([]match, Stats) {
	var (
		out   []match
		stats Stats
	)
	a := subjects[i]
	for j := i + 1; j < len(subjects); j++ {
		b := subjects[j]
		stats.Pairs++

		if a.folded == b.folded {
			stats.Identical++
			stats.Matches++
			out = append(out, match{j: j, score: 1})
			continue
		}

		short, long := min(a.length, b.length), max(a.length, b.length)
		// The distance is at least long-short, so short/long bounds the score.
		if float64(short)/float64(long)+1/scorePrecision < threshold {
			stats.Prefiltered++
			continue
		}

		stats.Computed++
		maxCost := int(math.Floor((1-threshold)*float64(long) + 1/scorePrecision))
		params := levenshtein.NewParams()
		if maxCost > 0 {
			params = params.MaxCost(maxCost)
		}
		d := levenshtein.Distance(a.folded, b.folded, params)
		if maxCost > 0 && d > maxCost {
			continue
		}
		if score := ratio(d, long); score >= threshold {
			stats.Matches++
			out = append(out, match{j: j, score: score})
		}
	}
	return out, stats
}

func sortEdges(edges []model.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if *a.Score != *b.Score {
			return *a.Score > *b.Score
		}
		return a.Target < b.Target
	})
}
