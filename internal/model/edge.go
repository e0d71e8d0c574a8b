package model

// EdgeKind is the relationship type between two initiatives.
type EdgeKind string

const (
	EdgeRelated EdgeKind = "related"
	EdgeOrigin  EdgeKind = "origin"
	EdgeSimilar EdgeKind = "similar"
)

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeRelated, EdgeOrigin, EdgeSimilar:
		return true
	}
	return false
}

// Edge is a directed relationship between two initiatives. Score is set only
// for similar edges.
type Edge struct {
	Source string   `json:"source_expediente"`
	Target string   `json:"target_expediente"`
	Kind   EdgeKind `json:"kind"`
	Score  *float64 `json:"score,omitempty"`
}

// SimilarEdge builds a similar edge carrying score.
func SimilarEdge(source, target string, score float64) Edge {
	s := score
	return Edge{Source: source, Target: target, Kind: EdgeSimilar, Score: &s}
}

// GroupEdgesBySource indexes edges by their source key, preserving order.
func GroupEdgesBySource(edges []Edge) map[string][]Edge {
	out := make(map[string][]Edge)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e)
	}
	return out
}
